package hl7v2

import (
	"fmt"
	"strconv"
	"strings"
)

// Value returns the value at an HL7 path such as "MSH-3", "PID-3.1", or
// "OBR-4.2". The segment is the first one with that name; field and component
// indices are 1-based. Missing segments, fields, or components yield "".
func (m *Message) Value(path string) string {
	segName, fieldIdx, compIdx, err := splitPath(path)
	if err != nil {
		return ""
	}

	seg := m.GetSegment(segName)
	if seg == nil {
		return ""
	}
	if compIdx > 0 {
		return seg.GetComponent(fieldIdx, compIdx)
	}
	return seg.GetField(fieldIdx)
}

// SetValue writes value at an HL7 path, growing the target segment's field
// list as needed. Component-level paths replace a single component and keep
// the rest of the field intact. The segment must already exist.
func (m *Message) SetValue(path, value string) error {
	segName, fieldIdx, compIdx, err := splitPath(path)
	if err != nil {
		return err
	}

	seg := m.GetSegment(segName)
	if seg == nil {
		return fmt.Errorf("hl7v2: segment %s not found", segName)
	}

	// Map the 1-based field index onto the Fields slice. MSH-1 is Fields[0]
	// (the separator itself), so the offset is the same for every segment.
	idx := fieldIdx - 1
	if idx < 0 {
		return fmt.Errorf("hl7v2: invalid field index in path %q", path)
	}
	for len(seg.Fields) <= idx {
		seg.Fields = append(seg.Fields, Field{})
	}

	if compIdx <= 0 {
		seg.Fields[idx] = parseField(value)
		return nil
	}

	comps := seg.Fields[idx].Components
	for len(comps) < compIdx {
		comps = append(comps, "")
	}
	comps[compIdx-1] = value
	seg.Fields[idx] = parseField(strings.Join(comps, "^"))
	return nil
}

// splitPath parses "SEG-field" or "SEG-field.component" into its parts.
func splitPath(path string) (segName string, fieldIdx, compIdx int, err error) {
	dash := strings.IndexByte(path, '-')
	if dash <= 0 || dash == len(path)-1 {
		return "", 0, 0, fmt.Errorf("hl7v2: invalid path %q", path)
	}
	segName = path[:dash]

	rest := path[dash+1:]
	fieldPart := rest
	if dot := strings.IndexByte(rest, '.'); dot != -1 {
		fieldPart = rest[:dot]
		compIdx, err = strconv.Atoi(rest[dot+1:])
		if err != nil || compIdx < 1 {
			return "", 0, 0, fmt.Errorf("hl7v2: invalid component index in path %q", path)
		}
	}

	fieldIdx, err = strconv.Atoi(fieldPart)
	if err != nil || fieldIdx < 1 {
		return "", 0, 0, fmt.Errorf("hl7v2: invalid field index in path %q", path)
	}

	return segName, fieldIdx, compIdx, nil
}
