// Copyright 2025 The RagForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ChangeRecord captures one mutation for a HAS_CHANGE node.
type ChangeRecord struct {
	Type         string
	LinesAdded   int
	LinesRemoved int
	Diff         string
}

// diffTexts computes a line-level change record between two versions.
func diffTexts(before, after string) ChangeRecord {
	changeType := "modified"
	switch {
	case before == "" && after != "":
		changeType = "created"
	case before != "" && after == "":
		changeType = "deleted"
	}

	dmp := diffmatchpatch.New()
	beforeLines, afterLines, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeLines, afterLines, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var added, removed int
	var sb strings.Builder
	for _, d := range diffs {
		lines := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += lines
			writePrefixed(&sb, "+", d.Text)
		case diffmatchpatch.DiffDelete:
			removed += lines
			writePrefixed(&sb, "-", d.Text)
		case diffmatchpatch.DiffEqual:
			writePrefixed(&sb, " ", d.Text)
		}
	}

	return ChangeRecord{
		Type:         changeType,
		LinesAdded:   added,
		LinesRemoved: removed,
		Diff:         sb.String(),
	}
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

func writePrefixed(sb *strings.Builder, prefix, text string) {
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		sb.WriteString(prefix)
		sb.WriteString(line)
		sb.WriteString("\n")
	}
}
