// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *BadgerStore {
	t.Helper()
	b, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBadgerStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	b := openMemory(t)

	_, ok, err := b.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set(ctx, "k", []byte("v1"), time.Minute))
	val, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), val)

	require.NoError(t, b.Set(ctx, "k", []byte("v2"), time.Minute))
	val, _, _ = b.Get(ctx, "k")
	assert.Equal(t, []byte("v2"), val)

	require.NoError(t, b.Delete(ctx, "k"))
	_, ok, err = b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, b.Delete(ctx, "k"), "deleting a missing key is fine")
}

func TestBadgerStore_TouchMissing(t *testing.T) {
	found, err := openMemory(t).Touch(context.Background(), "nope", time.Minute)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBadgerStore_Expiry(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for one-second TTL resolution")
	}
	ctx := context.Background()
	b := openMemory(t)

	require.NoError(t, b.Set(ctx, "short", []byte("x"), time.Second))
	require.NoError(t, b.Set(ctx, "touched", []byte("y"), time.Second))

	found, err := b.Touch(ctx, "touched", time.Hour)
	require.NoError(t, err)
	assert.True(t, found)

	time.Sleep(2500 * time.Millisecond)

	_, ok, err := b.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok, "entry expired")

	val, ok, err := b.Get(ctx, "touched")
	require.NoError(t, err)
	assert.True(t, ok, "touch extended the expiry")
	assert.Equal(t, []byte("y"), val)
}

func TestBadgerStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, b.Set(ctx, "k", []byte("persisted"), time.Hour))
	require.NoError(t, b.Close())

	b, err = OpenBadger(dir)
	require.NoError(t, err)
	defer b.Close()
	val, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("persisted"), val)
}
