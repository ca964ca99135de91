// Package extract turns the line-oriented output of the remote `extract`
// command into JSON-ready structures. Both stages are pure functions with no
// knowledge of sessions or connections.
package extract

import (
	"strings"
	"unicode"
)

// Record is one meaningful line of extract output. Lines of the form
// "key: value" carry a Key; anything else is kept whole in Value.
type Record struct {
	Line  int    `json:"line"`
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

// Document is the object handed back to the caller.
type Document map[string]any

// conferenceKeys mark a record that starts a new conference section.
var conferenceKeys = map[string]bool{
	"conference": true,
	"conf":       true,
}

// RawTextToRecords splits text into records, skipping blank lines. Line
// numbers are 1-based positions in the original text.
func RawTextToRecords(text string) []Record {
	records := []Record{}
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec := Record{Line: i + 1, Value: line}
		if key, value, ok := splitKeyValue(line); ok {
			rec.Key = key
			rec.Value = value
		}
		records = append(records, rec)
	}
	return records
}

// RecordsToObject assembles records into a Document. When auxList names
// conferences, records are also grouped under the conference section they
// appear in; sections for listed conferences with no output are present and
// empty.
func RecordsToObject(records []Record, auxList []string) Document {
	if records == nil {
		records = []Record{}
	}
	doc := Document{
		"records": records,
		"count":   len(records),
	}
	if len(auxList) == 0 {
		return doc
	}

	known := make(map[string]string, len(auxList))
	groups := make(map[string][]Record, len(auxList))
	for _, name := range auxList {
		known[strings.ToLower(name)] = name
		groups[name] = []Record{}
	}

	current := ""
	for _, rec := range records {
		if conferenceKeys[strings.ToLower(rec.Key)] {
			current = ""
			if fields := strings.Fields(rec.Value); len(fields) > 0 {
				current = known[strings.ToLower(fields[0])]
			}
			continue
		}
		if current != "" {
			groups[current] = append(groups[current], rec)
		}
	}

	doc["conferences"] = groups
	doc["order"] = auxList
	return doc
}

// splitKeyValue recognizes "key: value" where key is a single word.
func splitKeyValue(line string) (string, string, bool) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", false
	}
	key := line[:idx]
	for _, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			return "", "", false
		}
	}
	return key, strings.TrimSpace(line[idx+1:]), true
}
