package locker

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryRunLock(t *testing.T) {
	lock := NewMemoryRunLock()

	ok, err := lock.Acquire("batch", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = lock.Acquire("batch", time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire should be refused: ok=%v err=%v", ok, err)
	}
	if err := lock.Release("batch"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = lock.Acquire("batch", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestMemoryRunLockExpires(t *testing.T) {
	lock := NewMemoryRunLock()

	ok, err := lock.Acquire("batch", 10*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	time.Sleep(20 * time.Millisecond)
	ok, err = lock.Acquire("batch", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expired lock should be reacquirable: ok=%v err=%v", ok, err)
	}
}

func TestRedisRunLock(t *testing.T) {
	redis := miniredis.RunT(t)
	lock := NewRedisRunLock(redis.Addr(), "")

	ok, err := lock.Acquire("batch", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = lock.Acquire("batch", time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire should be refused: ok=%v err=%v", ok, err)
	}
	if err := lock.Release("batch"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = lock.Acquire("batch", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestRedisRunLockExpires(t *testing.T) {
	redis := miniredis.RunT(t)
	lock := NewRedisRunLock(redis.Addr(), "")

	ok, err := lock.Acquire("batch", time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	redis.FastForward(2 * time.Second)
	ok, err = lock.Acquire("batch", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expired lock should be reacquirable: ok=%v err=%v", ok, err)
	}
}
