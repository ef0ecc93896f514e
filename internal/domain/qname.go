package domain

import (
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
)

// qnameSep joins the four segments of a qualified name. Segment content is
// escaped so servers or local names containing the separator never collide
// with segment boundaries.
const qnameSep = ':'

// QualifiedName is the reversible encoding of (space, server, kind, local
// name). Two distinct tuples never produce the same QualifiedName.
type QualifiedName string

func (q QualifiedName) String() string { return string(q) }

// EncodeQualifiedName builds a qualified name from its four parts. Server
// and local name must be non-empty and the kind must be known.
func EncodeQualifiedName(spaceID uuid.UUID, serverID string, kind FeatureKind, name string) (QualifiedName, error) {
	if serverID == "" {
		return "", fmt.Errorf("%w: empty server id", ErrMalformedName)
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty local name", ErrMalformedName)
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return encodeSegments(spaceID.String(), serverID, string(kind), name), nil
}

// Decode splits a qualified name back into its four parts. It fails with
// ErrMalformedName when the string does not have exactly four segments or
// the space segment is not a UUID, and with ErrUnknownKind when the kind
// segment is unrecognized.
func (q QualifiedName) Decode() (spaceID uuid.UUID, serverID string, kind FeatureKind, name string, err error) {
	segs, err := splitSegments(string(q))
	if err != nil {
		return uuid.Nil, "", "", "", err
	}
	if len(segs) != 4 {
		return uuid.Nil, "", "", "", fmt.Errorf("%w: expected 4 segments, got %d", ErrMalformedName, len(segs))
	}
	spaceID, err = uuid.FromString(segs[0])
	if err != nil {
		return uuid.Nil, "", "", "", fmt.Errorf("%w: bad space segment: %v", ErrMalformedName, err)
	}
	kind = FeatureKind(segs[2])
	if !kind.Valid() {
		return uuid.Nil, "", "", "", fmt.Errorf("%w: %q", ErrUnknownKind, segs[2])
	}
	if segs[1] == "" || segs[3] == "" {
		return uuid.Nil, "", "", "", fmt.Errorf("%w: empty segment", ErrMalformedName)
	}
	return spaceID, segs[1], kind, segs[3], nil
}

func encodeSegments(segs ...string) QualifiedName {
	var b strings.Builder
	for i, seg := range segs {
		if i > 0 {
			b.WriteByte(qnameSep)
		}
		for j := 0; j < len(seg); j++ {
			switch seg[j] {
			case qnameSep, '\\':
				b.WriteByte('\\')
			}
			b.WriteByte(seg[j])
		}
	}
	return QualifiedName(b.String())
}

func splitSegments(s string) ([]string, error) {
	segs := []string{}
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 >= len(s) {
				return nil, fmt.Errorf("%w: dangling escape", ErrMalformedName)
			}
			i++
			if s[i] != qnameSep && s[i] != '\\' {
				return nil, fmt.Errorf("%w: invalid escape %q", ErrMalformedName, s[i])
			}
			cur.WriteByte(s[i])
		case qnameSep:
			segs = append(segs, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(s[i])
		}
	}
	segs = append(segs, cur.String())
	return segs, nil
}
