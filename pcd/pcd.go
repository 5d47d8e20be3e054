// Package pcd reads and writes point clouds in the PCD v0.7 file format.
package pcd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/pointcloud-viewer/models"
)

// The error type returned when PCD data cannot be read.
const ErrTypeFormat = "pcd_format_error"

// Encode returns the binary PCD representation of the given points. Points of
// width 3 are written as x y z fields and points of width 4 as x y z rgb
// fields.
//
// The caller ensures points has a valid shape.
func Encode(points models.PointSet) []byte {
	n := points.Len()

	fields := "x y z"
	size := "4 4 4"
	typ := "F F F"
	count := "1 1 1"
	if points.Width == 4 {
		fields += " rgb"
		size += " 4"
		typ += " F"
		count += " 1"
	}

	var b bytes.Buffer
	b.Grow(256 + len(points.Data)*4)

	fmt.Fprintf(&b, "# .PCD v0.7 - Point Cloud Data file format\n"+
		"VERSION 0.7\n"+
		"FIELDS %s\n"+
		"SIZE %s\n"+
		"TYPE %s\n"+
		"COUNT %s\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA binary\n",
		fields, size, typ, count, n, n,
	)

	buf := b.AvailableBuffer()
	for _, v := range points.Data {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	b.Write(buf)

	return b.Bytes()
}

// ReadFile reads the PCD file at the given path.
func ReadFile(path string) (models.PointSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.PointSet{}, errors.New("reading pcd file failed").
			WithTag("path", path).
			Wrap(err)
	}

	points, err := Decode(data)
	if err != nil {
		return models.PointSet{}, errors.New("decoding pcd file failed").
			WithType(ErrTypeFormat).
			WithTag("path", path).
			Wrap(err)
	}
	return points, nil
}

// Decode reads ascii or binary PCD data. The x, y and z fields are returned as
// the first three columns. When the data has an rgb or rgba field, its color
// is packed in a fourth column.
func Decode(data []byte) (models.PointSet, error) {
	h, body, err := decodeHeader(data)
	if err != nil {
		return models.PointSet{}, err
	}

	switch h.data {
	case "ascii":
		return decodeASCII(h, body)

	case "binary":
		return decodeBinary(h, body)

	default:
		return models.PointSet{}, errors.New("unsupported pcd data encoding").
			WithType(ErrTypeFormat).
			WithTag("data", h.data)
	}
}

type field struct {
	name   string
	size   int
	typ    byte
	count  int
	offset int
	column int
}

type header struct {
	fields     []field
	points     int
	data       string
	recordSize int
	columns    int

	// Indexes in fields of x, y, z and color. Color is -1 when missing.
	xyz   [3]int
	color int
}

func decodeHeader(data []byte) (header, []byte, error) {
	h := header{
		points: -1,
		xyz:    [3]int{-1, -1, -1},
		color:  -1,
	}

	var sizes, types, counts []string
	var width, height int

	for len(data) > 0 && h.data == "" {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line = data[:i]
			data = data[i+1:]
		} else {
			data = nil
		}

		tokens := strings.Fields(string(line))
		if len(tokens) == 0 || strings.HasPrefix(tokens[0], "#") {
			continue
		}

		var err error
		switch values := tokens[1:]; strings.ToUpper(tokens[0]) {
		case "FIELDS":
			for _, name := range values {
				h.fields = append(h.fields, field{name: name})
			}
		case "SIZE":
			sizes = values
		case "TYPE":
			types = values
		case "COUNT":
			counts = values
		case "WIDTH":
			width, err = headerInt(tokens)
		case "HEIGHT":
			height, err = headerInt(tokens)
		case "POINTS":
			h.points, err = headerInt(tokens)
		case "DATA":
			if len(values) != 1 {
				err = errors.New("invalid data line")
			} else {
				h.data = strings.ToLower(values[0])
			}
		}

		if err != nil {
			return header{}, nil, errors.New("invalid pcd header").
				WithType(ErrTypeFormat).
				WithTag("line", string(line)).
				Wrap(err)
		}
	}

	if h.data == "" {
		return header{}, nil, errors.New("pcd header has no data line").
			WithType(ErrTypeFormat)
	}

	if len(h.fields) == 0 ||
		len(sizes) != len(h.fields) ||
		len(types) != len(h.fields) ||
		(counts != nil && len(counts) != len(h.fields)) {
		return header{}, nil, errors.New("pcd field descriptions do not match").
			WithType(ErrTypeFormat).
			WithTag("fields", len(h.fields)).
			WithTag("sizes", len(sizes)).
			WithTag("types", len(types)).
			WithTag("counts", len(counts))
	}

	if h.points < 0 {
		if height == 0 {
			height = 1
		}
		if width > math.MaxInt/height {
			return header{}, nil, errors.New("pcd width and height are too large").
				WithType(ErrTypeFormat).
				WithTag("width", width).
				WithTag("height", height)
		}
		h.points = width * height
	}

	for i := range h.fields {
		f := &h.fields[i]

		size, err := strconv.Atoi(sizes[i])
		if err != nil || (size != 1 && size != 2 && size != 4 && size != 8) {
			return header{}, nil, errors.New("invalid pcd field size").
				WithType(ErrTypeFormat).
				WithTag("field", f.name).
				WithTag("size", sizes[i])
		}
		f.size = size

		f.typ = strings.ToUpper(types[i])[0]
		if f.typ != 'F' && f.typ != 'I' && f.typ != 'U' || f.typ == 'F' && size != 4 && size != 8 {
			return header{}, nil, errors.New("invalid pcd field type").
				WithType(ErrTypeFormat).
				WithTag("field", f.name).
				WithTag("type", types[i])
		}

		f.count = 1
		if counts != nil {
			if f.count, err = strconv.Atoi(counts[i]); err != nil || f.count < 1 {
				return header{}, nil, errors.New("invalid pcd field count").
					WithType(ErrTypeFormat).
					WithTag("field", f.name).
					WithTag("count", counts[i])
			}
		}

		if f.count > (math.MaxInt32-h.recordSize)/f.size {
			return header{}, nil, errors.New("pcd record is too large").
				WithType(ErrTypeFormat).
				WithTag("field", f.name).
				WithTag("count", f.count)
		}

		f.offset = h.recordSize
		f.column = h.columns
		h.recordSize += f.size * f.count
		h.columns += f.count

		switch strings.ToLower(f.name) {
		case "x":
			h.xyz[0] = i
		case "y":
			h.xyz[1] = i
		case "z":
			h.xyz[2] = i
		case "rgb", "rgba":
			h.color = i
		}
	}

	for _, idx := range h.xyz {
		if idx < 0 {
			return header{}, nil, errors.New("pcd data has no x, y and z fields").
				WithType(ErrTypeFormat)
		}
	}

	return h, data, nil
}

func headerInt(tokens []string) (int, error) {
	if len(tokens) != 2 {
		return 0, errors.New("expected a single value")
	}

	v, err := strconv.Atoi(tokens[1])
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.New("negative value")
	}
	return v, nil
}

func (h header) width() int {
	if h.color >= 0 {
		return 4
	}
	return 3
}

func decodeBinary(h header, body []byte) (models.PointSet, error) {
	// Compared by division so that huge point counts cannot overflow.
	if h.points > len(body)/h.recordSize {
		return models.PointSet{}, errors.New("pcd data is truncated").
			WithType(ErrTypeFormat).
			WithTag("points", h.points).
			WithTag("record_size", h.recordSize).
			WithTag("bytes", len(body))
	}

	width := h.width()
	data := make([]float32, 0, h.points*width)

	for i := 0; i < h.points; i++ {
		record := body[i*h.recordSize : (i+1)*h.recordSize]

		for _, idx := range h.xyz {
			f := h.fields[idx]
			data = append(data, binaryValue(f, record[f.offset:f.offset+f.size]))
		}

		if h.color >= 0 {
			f := h.fields[h.color]
			data = append(data, binaryColor(f, record[f.offset:f.offset+f.size]))
		}
	}

	return models.PointSet{
		Width: width,
		Data:  data,
	}, nil
}

func binaryValue(f field, b []byte) float32 {
	switch f.typ {
	case 'F':
		if f.size == 8 {
			return float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b))

	case 'I':
		switch f.size {
		case 1:
			return float32(int8(b[0]))
		case 2:
			return float32(int16(binary.LittleEndian.Uint16(b)))
		case 4:
			return float32(int32(binary.LittleEndian.Uint32(b)))
		default:
			return float32(int64(binary.LittleEndian.Uint64(b)))
		}

	default:
		switch f.size {
		case 1:
			return float32(b[0])
		case 2:
			return float32(binary.LittleEndian.Uint16(b))
		case 4:
			return float32(binary.LittleEndian.Uint32(b))
		default:
			return float32(binary.LittleEndian.Uint64(b))
		}
	}
}

// binaryColor returns the packed color stored in b. Colors stored as 4 byte
// fields keep their bits; the alpha byte is dropped.
func binaryColor(f field, b []byte) float32 {
	if f.size != 4 {
		return models.PackRGB(0, 0, 0)
	}
	return packedColor(binary.LittleEndian.Uint32(b))
}

func packedColor(bits uint32) float32 {
	return math.Float32frombits(bits & 0xffffff)
}

func decodeASCII(h header, body []byte) (models.PointSet, error) {
	width := h.width()
	lines := bytes.Split(body, []byte("\n"))

	// Each point takes a line, so the header count cannot size the buffer
	// beyond the lines actually present.
	data := make([]float32, 0, min(h.points, len(lines))*width)
	points := 0

	for _, line := range lines {
		if points == h.points {
			break
		}

		tokens := strings.Fields(string(line))
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) < h.columns {
			return models.PointSet{}, errors.New("pcd point has missing values").
				WithType(ErrTypeFormat).
				WithTag("point", points).
				WithTag("values", len(tokens)).
				WithTag("expected_values", h.columns)
		}

		for _, idx := range h.xyz {
			v, err := strconv.ParseFloat(tokens[h.fields[idx].column], 32)
			if err != nil {
				return models.PointSet{}, errors.New("invalid pcd value").
					WithType(ErrTypeFormat).
					WithTag("point", points).
					WithTag("field", h.fields[idx].name).
					Wrap(err)
			}
			data = append(data, float32(v))
		}

		if h.color >= 0 {
			c, err := asciiColor(h.fields[h.color], tokens[h.fields[h.color].column])
			if err != nil {
				return models.PointSet{}, errors.New("invalid pcd color").
					WithType(ErrTypeFormat).
					WithTag("point", points).
					Wrap(err)
			}
			data = append(data, c)
		}

		points++
	}

	if points != h.points {
		return models.PointSet{}, errors.New("pcd data is truncated").
			WithType(ErrTypeFormat).
			WithTag("points", points).
			WithTag("expected_points", h.points)
	}

	return models.PointSet{
		Width: width,
		Data:  data,
	}, nil
}

func asciiColor(f field, token string) (float32, error) {
	if f.typ == 'F' {
		v, err := strconv.ParseFloat(token, 32)
		if err != nil {
			return 0, err
		}
		return packedColor(math.Float32bits(float32(v))), nil
	}

	v, err := strconv.ParseUint(token, 10, 32)
	if err != nil {
		return 0, err
	}
	return packedColor(uint32(v)), nil
}
