package sqlengine

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// rowWriter streams a tabular result.
type rowWriter interface {
	Row(values []any) error
	Flush() error
}

// formatter creates a rowWriter for the given columns.
type formatter func(w io.Writer, columns []string) rowWriter

// csvFormatter writes RFC 4180 CSV with a header record.
func csvFormatter(w io.Writer, columns []string) rowWriter {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	return &csvRows{w: cw, header: columns, record: make([]string, len(columns))}
}

type csvRows struct {
	w      *csv.Writer
	header []string
	record []string
	wrote  bool
}

func (c *csvRows) writeHeader() error {
	if c.wrote {
		return nil
	}
	c.wrote = true
	return c.w.Write(c.header)
}

func (c *csvRows) Row(values []any) error {
	if err := c.writeHeader(); err != nil {
		return err
	}
	for i, v := range values {
		c.record[i] = textValue(v)
	}
	return c.w.Write(c.record)
}

func (c *csvRows) Flush() error {
	if err := c.writeHeader(); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// jsonFormatter writes a JSON array with one object per row. Keys follow
// column order.
func jsonFormatter(w io.Writer, columns []string) rowWriter {
	keys := make([][]byte, len(columns))
	for i, c := range columns {
		keys[i], _ = json.Marshal(c)
	}
	return &jsonRows{w: bufio.NewWriter(w), keys: keys}
}

type jsonRows struct {
	w    *bufio.Writer
	keys [][]byte
	rows int
}

func (j *jsonRows) Row(values []any) error {
	if j.rows == 0 {
		j.w.WriteByte('[')
	} else {
		j.w.WriteByte(',')
	}
	j.rows++

	j.w.WriteByte('{')
	for i, v := range values {
		if i > 0 {
			j.w.WriteByte(',')
		}
		j.w.Write(j.keys[i])
		j.w.WriteByte(':')
		data, err := json.Marshal(jsonValue(v))
		if err != nil {
			return fmt.Errorf("encode column %s: %w", j.keys[i], err)
		}
		j.w.Write(data)
	}
	_, err := j.w.WriteString("}")
	return err
}

func (j *jsonRows) Flush() error {
	if j.rows == 0 {
		j.w.WriteByte('[')
	}
	j.w.WriteByte(']')
	return j.w.Flush()
}

func textValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}

func jsonValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return val
	}
}
