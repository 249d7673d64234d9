package dedup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mp3")
	b := filepath.Join(dir, "b.mp3")
	c := filepath.Join(dir, "c.mp3")
	if err := os.WriteFile(a, []byte("same bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("same bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(c, []byte("other bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	ha, err := HashFile(ctx, a, 4)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	hb, _ := HashFile(ctx, b, 0)
	hc, _ := HashFile(ctx, c, 0)

	if ha != hb {
		t.Errorf("identical content hashed differently: %s vs %s", ha, hb)
	}
	if ha == hc {
		t.Errorf("different content produced the same hash")
	}
	if len(ha) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(ha))
	}
}

func TestHashFileMissing(t *testing.T) {
	if _, err := HashFile(context.Background(), filepath.Join(t.TempDir(), "nope"), 0); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestHashReaderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := HashReader(ctx, strings.NewReader("data"), 0); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestAvailable(t *testing.T) {
	if !Available() {
		t.Error("SHA-256 should be available")
	}
}

func TestIndexClaim(t *testing.T) {
	idx := NewIndex(map[string]string{"h1": "/lib/a.mp3"})

	if p, ok := idx.Lookup("h1"); !ok || p != "/lib/a.mp3" {
		t.Errorf("Lookup(h1) = %q, %v", p, ok)
	}

	if existing, ok := idx.Claim("h1", "/src/x.mp3"); ok || existing != "/lib/a.mp3" {
		t.Errorf("Claim on indexed hash = %q, %v; want existing path and false", existing, ok)
	}

	if _, ok := idx.Claim("h2", "/src/y.mp3"); !ok {
		t.Fatal("first claim of h2 should succeed")
	}
	if _, ok := idx.Claim("h2", "/src/y.mp3"); !ok {
		t.Error("re-claim by the same source should succeed")
	}
	if _, ok := idx.Claim("h2", "/src/z.mp3"); ok {
		t.Error("second source claiming h2 should lose")
	}

	idx.Release("h2")
	if _, ok := idx.Claim("h2", "/src/z.mp3"); !ok {
		t.Error("claim after release should succeed")
	}

	idx.Add("h2", "/lib/z.mp3")
	if _, ok := idx.Claim("h2", "/src/w.mp3"); ok {
		t.Error("claim on added hash should fail")
	}
	if idx.Len() != 2 {
		t.Errorf("Len = %d, want 2", idx.Len())
	}
}

func TestIndexConcurrentClaims(t *testing.T) {
	idx := NewIndex(nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, ok := idx.Claim("same", fmt.Sprintf("/src/%d.mp3", n)); ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}
