// Package pointstream provides a reference implementation of the
// PointStream collaborator spec §1 deliberately leaves out of scope: a
// simple whitespace-delimited text format ("x y z r g b [intensity]" per
// line), so cmd/build_octree has something concrete to read. No parser
// library in the retrieved pack models this ad hoc per-line numeric
// format, so it is read directly against bufio/strconv, following the
// same line-oriented scanning style the teacher uses for its build
// manifests and package lists.
package pointstream

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"

	pc "github.com/cartographer-project/point-cloud-viewer"
)

// TextSource reads points from a reader in "x y z r g b [intensity]"
// text form, one point per line. Blank lines and lines starting with '#'
// are skipped.
type TextSource struct {
	sc   *bufio.Scanner
	line int
}

// OpenText wraps r as a point Source.
func OpenText(r io.Reader) *TextSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &TextSource{sc: sc}
}

// Next implements internal/batch.Source.
func (s *TextSource) Next() (pc.Point, error) {
	for s.sc.Scan() {
		s.line++
		line := strings.TrimSpace(s.sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return s.parse(line)
	}
	if err := s.sc.Err(); err != nil {
		return pc.Point{}, &pc.InputError{Msg: "reading point stream", Err: err}
	}
	return pc.Point{}, io.EOF
}

func (s *TextSource) parse(line string) (pc.Point, error) {
	fields := strings.Fields(line)
	if len(fields) != 6 && len(fields) != 7 {
		return pc.Point{}, &pc.InputError{Msg: "line " + strconv.Itoa(s.line) + ": want 6 or 7 fields, got " + strconv.Itoa(len(fields))}
	}
	x, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return pc.Point{}, s.fieldErr("x", err)
	}
	y, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return pc.Point{}, s.fieldErr("y", err)
	}
	z, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return pc.Point{}, s.fieldErr("z", err)
	}
	r, err := strconv.ParseUint(fields[3], 10, 8)
	if err != nil {
		return pc.Point{}, s.fieldErr("r", err)
	}
	g, err := strconv.ParseUint(fields[4], 10, 8)
	if err != nil {
		return pc.Point{}, s.fieldErr("g", err)
	}
	b, err := strconv.ParseUint(fields[5], 10, 8)
	if err != nil {
		return pc.Point{}, s.fieldErr("b", err)
	}
	intensity := float32(math.NaN())
	if len(fields) == 7 {
		v, err := strconv.ParseFloat(fields[6], 32)
		if err != nil {
			return pc.Point{}, s.fieldErr("intensity", err)
		}
		intensity = float32(v)
	}
	return pc.Point{X: x, Y: y, Z: z, R: uint8(r), G: uint8(g), B: uint8(b), Intensity: intensity}, nil
}

func (s *TextSource) fieldErr(field string, err error) error {
	return &pc.InputError{Msg: "line " + strconv.Itoa(s.line) + ": field " + field, Err: err}
}
