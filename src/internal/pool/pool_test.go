package pool

import (
	"testing"
)

type object struct {
	self  Handle
	value int
}

func TestAllocFree(t *testing.T) {
	ctorCalls := 0
	p := New("test", func(h Handle, obj *object) {
		ctorCalls++
		obj.self = h
		obj.value = 0
	})

	a := p.Alloc()
	b := p.Alloc()
	if a == None || b == None || a == b {
		t.Fatalf("bad handles %d %d", a, b)
	}
	if p.Get(a).self != a || p.Get(b).self != b {
		t.Errorf("ctor not called with the object's handle")
	}
	if p.Get(a) == p.Get(b) {
		t.Errorf("handles %d and %d share an object", a, b)
	}
	if n := p.InUse(); n != 2 {
		t.Errorf("in use: got %d, want 2", n)
	}

	p.Get(a).value = 42
	p.Free(a)
	if c := p.Alloc(); c != a {
		t.Errorf("freed handle %d not reused, got %d", a, c)
	}
	if p.Get(a).value != 0 {
		t.Errorf("reused object not reset by ctor")
	}
	if ctorCalls != 3 {
		t.Errorf("ctor calls: got %d, want 3", ctorCalls)
	}
	if n := p.InUse(); n != 2 {
		t.Errorf("in use: got %d, want 2", n)
	}
}

func TestManyChunks(t *testing.T) {
	p := New[object]("chunks", nil)
	handles := make([]Handle, 3*chunkSize)
	for i := range handles {
		handles[i] = p.Alloc()
		p.Get(handles[i]).value = i
	}
	for i, h := range handles {
		if v := p.Get(h).value; v != i {
			t.Fatalf("object %d: got value %d", h, v)
		}
	}
}

func TestBadHandle(t *testing.T) {
	p := New[object]("bad", nil)
	p.Alloc()
	for _, h := range []Handle{None, 2} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Get(%d) did not panic", h)
				}
			}()
			p.Get(h)
		}()
	}

	defer func() {
		if recover() == nil {
			t.Errorf("Free(None) did not panic")
		}
	}()
	p.Free(None)
}
