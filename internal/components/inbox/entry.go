package inbox

import (
	"bufio"
	"strings"
	"time"

	"github.com/multiformats/go-multihash"
)

// Source names where an entry was observed.
type Source string

const (
	SourceStore   Source = "store"
	SourceChannel Source = "channel"
)

// rank orders sources for tie-breaking; the store sorts first.
func (s Source) rank() int {
	if s == SourceStore {
		return 0
	}
	return 1
}

// Entry is one de-duplicated inbox item.
type Entry struct {
	ID              string    `json:"id"`
	Sender          string    `json:"sender"`
	Recipient       string    `json:"recipient"`
	Content         string    `json:"content"`
	SourceTimestamp time.Time `json:"sourceTimestamp"`
	Source          Source    `json:"source"`
	Digest          string    `json:"digest"`
}

// NormalizeContent canonicalizes content for digesting: CRLF becomes LF,
// trailing whitespace is trimmed from each line and the whole is trimmed.
func NormalizeContent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var b strings.Builder
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 0, 64*1024), len(s)+1)
	first := true
	for sc.Scan() {
		if !first {
			b.WriteByte('\n')
		}
		first = false
		b.WriteString(strings.TrimRight(sc.Text(), " \t\r"))
	}
	return strings.TrimSpace(b.String())
}

// Digest returns the base58 sha2-256 multihash of the normalized content.
func Digest(content string) string {
	sum, err := multihash.Sum([]byte(NormalizeContent(content)), multihash.SHA2_256, -1)
	if err != nil {
		// Sum only fails for unknown codes or bad lengths.
		panic(err)
	}
	return sum.B58String()
}
