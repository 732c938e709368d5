package pathhash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDigestDeterministic(t *testing.T) {
	a := Digest([]byte("hello"), 1, XXHash64)
	b := Digest([]byte("hello"), 1, XXHash64)
	require.Equal(t, a, b)
	require.Len(t, a, 16)
}

func TestDigestVersionSaltChangesOutput(t *testing.T) {
	a := Digest([]byte("hello"), 1, XXHash64)
	b := Digest([]byte("hello"), 2, XXHash64)
	require.NotEqual(t, a, b)
}

func TestDigestSHA256Length(t *testing.T) {
	d := Digest([]byte("hello"), 0, SHA256)
	require.Len(t, d, 64)
}

func TestShardIsFirstByte(t *testing.T) {
	d := Digest([]byte("some-key"), 0, XXHash64)
	require.Equal(t, d[0:2], Shard(d))
}

func TestPathsAreSharded(t *testing.T) {
	d := Digest([]byte("some-key"), 0, XXHash64)
	dp := DataPath("/base", d)
	mp := MetaPath("/base", d)
	require.Contains(t, dp, "/base/objects/"+Shard(d)+"/"+d)
	require.Contains(t, mp, "/base/metadata/"+Shard(d)+"/"+d+".meta")
}

func TestAllShardsCount(t *testing.T) {
	require.Len(t, AllShards(), 256)
}
