// Copyright (C) 2026 The tomopick Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestLogAlsoToFile(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "run.log")
	if err := LogAlsoToFile(fileName); err != nil {
		t.Fatalf("open log file: %v", err)
	}
	LogPrintf("%d: hello\n", 7)
	fmt.Fprintf(LogWriter, "%d: world\n", 8)
	LogSync()
	LogClose()

	bs, err := os.ReadFile(fileName)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if got, want := string(bs), "7: hello\n8: world\n"; got != want {
		t.Errorf("log file got %q want %q", got, want)
	}
	LogPrintln("after close goes to stdout only")
}
