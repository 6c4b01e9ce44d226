package bencode

import (
	"bytes"
	"fmt"
	"strconv"
)

// scanValue returns the offset immediately after the bencoded value (an
// integer, byte-string, list, or dictionary) starting at data[pos], without
// interpreting its contents. It is the mechanism by which rawDictValue
// locates a sub-value's exact source bytes — something no typed unmarshal
// can give us, and which the info-hash computation depends on: the hash is
// over the info-dictionary's original bytes, never a re-encoding.
func scanValue(data []byte, pos int) (int, error) {
	if pos >= len(data) {
		return 0, fmt.Errorf("bencode: unexpected end of input at offset %d", pos)
	}
	switch {
	case data[pos] == 'i':
		end := bytes.IndexByte(data[pos:], 'e')
		if end < 0 {
			return 0, fmt.Errorf("bencode: unterminated integer at offset %d", pos)
		}
		return pos + end + 1, nil

	case data[pos] == 'l':
		p := pos + 1
		var err error
		for p < len(data) && data[p] != 'e' {
			p, err = scanValue(data, p)
			if err != nil {
				return 0, err
			}
		}
		if p >= len(data) {
			return 0, fmt.Errorf("bencode: unterminated list at offset %d", pos)
		}
		return p + 1, nil

	case data[pos] == 'd':
		p := pos + 1
		var err error
		for p < len(data) && data[p] != 'e' {
			p, err = scanValue(data, p) // key
			if err != nil {
				return 0, err
			}
			p, err = scanValue(data, p) // value
			if err != nil {
				return 0, err
			}
		}
		if p >= len(data) {
			return 0, fmt.Errorf("bencode: unterminated dictionary at offset %d", pos)
		}
		return p + 1, nil

	case data[pos] >= '0' && data[pos] <= '9':
		colon := bytes.IndexByte(data[pos:], ':')
		if colon < 0 {
			return 0, fmt.Errorf("bencode: malformed string length at offset %d", pos)
		}
		n, err := strconv.Atoi(string(data[pos : pos+colon]))
		if err != nil {
			return 0, fmt.Errorf("bencode: malformed string length at offset %d: %s", pos, err)
		}
		start := pos + colon + 1
		end := start + n
		if n < 0 || end > len(data) {
			return 0, fmt.Errorf("bencode: string length exceeds buffer at offset %d", pos)
		}
		return end, nil

	default:
		return 0, fmt.Errorf("bencode: unexpected token %q at offset %d", data[pos], pos)
	}
}

// rawDictValue returns the exact source bytes of key's value within the
// top-level dictionary encoded in data.
func rawDictValue(data []byte, key string) ([]byte, error) {
	if len(data) == 0 || data[0] != 'd' {
		return nil, fmt.Errorf("bencode: not a dictionary")
	}
	keyToken := []byte(fmt.Sprintf("%d:%s", len(key), key))

	p := 1
	for p < len(data) && data[p] != 'e' {
		keyStart := p
		keyEnd, err := scanValue(data, p)
		if err != nil {
			return nil, err
		}
		valStart := keyEnd
		valEnd, err := scanValue(data, valStart)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(data[keyStart:keyEnd], keyToken) {
			return data[valStart:valEnd], nil
		}
		p = valEnd
	}
	return nil, fmt.Errorf("bencode: key %q not found", key)
}
