package metrics_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/torosent/pushload/internal/metrics"
)

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Counters.txt")
	sink := metrics.NewFileSink(path)

	if err := sink.WriteLine("first"); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}
	second := metrics.NewFileSink(path)
	if err := second.WriteLine("second"); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := strings.Split(strings.TrimSpace(string(data)), "\n"); len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("file contents = %q", string(data))
	}
}

func TestFileSinksShareOneFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.txt")
	a := metrics.NewFileSink(path)
	b := metrics.NewFileSink(path)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = a.WriteLine(fmt.Sprintf("a-%d", i))
		}(i)
		go func(i int) {
			defer wg.Done()
			_ = b.WriteLine(fmt.Sprintf("b-%d", i))
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 100 {
		t.Fatalf("lines = %d, want 100", len(lines))
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "a-") && !strings.HasPrefix(l, "b-") {
			t.Fatalf("interleaved line %q", l)
		}
	}
}

func TestFileSinkUnwritablePath(t *testing.T) {
	sink := metrics.NewFileSink(filepath.Join(t.TempDir(), "missing", "Counters.txt"))
	if err := sink.WriteLine("x"); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := metrics.NewWriterSink(&buf)
	if err := sink.WriteLine("hello"); err != nil {
		t.Fatalf("WriteLine error = %v", err)
	}
	if buf.String() != "hello\n" {
		t.Fatalf("buf = %q", buf.String())
	}
	if err := metrics.NewWriterSink(nil).WriteLine("dropped"); err != nil {
		t.Fatalf("nil writer sink error = %v", err)
	}
}
