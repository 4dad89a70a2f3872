package compress

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allAlgorithms = []Algorithm{None, LZMA, LZ4, LZ4HC, LZ4AK}

func sample(n int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	words := [][]byte{[]byte("m_Name"), []byte("Texture2D"), []byte("PPtr<Object>"), []byte("\x00\x00\x00\x01")}
	var buf bytes.Buffer
	for buf.Len() < n {
		if rng.Intn(4) == 0 {
			buf.WriteByte(byte(rng.Intn(256)))
			continue
		}
		buf.Write(words[rng.Intn(len(words))])
	}
	out := make([]byte, n)
	copy(out, buf.Bytes())
	return out
}

func TestRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	for _, algo := range allAlgorithms {
		algo := algo
		properties.Property(algo.String()+" decompress(compress(x)) == x", prop.ForAll(
			func(data []byte) bool {
				comp, err := Compress(data, uint32(algo))
				if err != nil {
					return false
				}
				out, err := Decompress(comp, len(data), uint32(algo))
				if err != nil {
					return false
				}
				return bytes.Equal(out, data)
			},
			gen.SliceOf(gen.UInt8()),
		))
	}
	properties.TestingRun(t)
}

func TestRoundTripChunkBoundaries(t *testing.T) {
	sizes := []int{0, 1, 127 << 10, 128 << 10, 129 << 10}
	for _, algo := range allAlgorithms {
		for _, n := range sizes {
			data := sample(n, int64(n))
			comp, err := Compress(data, uint32(algo))
			require.NoError(t, err, "%s/%d", algo, n)
			out, err := Decompress(comp, n, uint32(algo))
			require.NoError(t, err, "%s/%d", algo, n)
			assert.True(t, bytes.Equal(data, out), "%s/%d", algo, n)
		}
	}
}

func decodeBlocks(t *testing.T, data []byte, blocks []StorageBlock) []byte {
	t.Helper()
	var region []byte
	off := 0
	for i, b := range blocks {
		end := off + int(b.CompressedSize)
		require.LessOrEqual(t, end, len(data), "block %d", i)
		out, err := Decompress(data[off:end], int(b.UncompressedSize), uint32(b.Flags))
		require.NoError(t, err, "block %d", i)
		region = append(region, out...)
		off = end
	}
	assert.Equal(t, len(data), off)
	return region
}

func TestChunkedCompress(t *testing.T) {
	for _, algo := range allAlgorithms {
		for _, n := range []int{0, 127 << 10, 128 << 10, 129 << 10, 300 << 10} {
			data := sample(n, 7)
			out, blocks, err := ChunkedCompress(data, uint32(algo))
			require.NoError(t, err)
			assert.True(t, bytes.Equal(data, decodeBlocks(t, out, blocks)), "%s/%d", algo, n)

			switch algo {
			case None, LZMA:
				assert.Len(t, blocks, 1)
			default:
				assert.Len(t, blocks, (n+ChunkSize-1)/ChunkSize)
				for _, b := range blocks {
					assert.LessOrEqual(t, int(b.UncompressedSize), ChunkSize)
				}
			}
		}
	}
}

func TestChunkedCompressFallsBackToStored(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	noise := make([]byte, 200<<10)
	rng.Read(noise)

	for _, algo := range []Algorithm{LZMA, LZ4, LZ4HC} {
		out, blocks, err := ChunkedCompress(noise, uint32(algo))
		require.NoError(t, err)
		for _, b := range blocks {
			assert.Equal(t, None, b.Flags.Algorithm(), algo.String())
			assert.Equal(t, b.UncompressedSize, b.CompressedSize)
		}
		assert.Equal(t, noise, decodeBlocks(t, out, blocks))
	}
}

func TestLZ4AKFixture(t *testing.T) {
	// token 0x54: 4 literals (low nibble), match length 5+4 (high nibble)
	// offset 0x0004 stored big-endian, then a literal-only tail token 0x08.
	fixture := []byte{
		0x54, 'a', 'b', 'c', 'd', 0x00, 0x04,
		0x08, 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l',
	}
	require.Len(t, fixture, 16)
	want := []byte("abcdabcdabcdaefghijkl")

	std, err := FromLZ4AK(fixture, len(want))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x45, 'a', 'b', 'c', 'd', 0x04, 0x00, 0x80}, std[:8])

	out, err := Decompress(fixture, len(want), uint32(LZ4AK))
	require.NoError(t, err)
	assert.Equal(t, want, out)

	back, err := ToLZ4AK(std)
	require.NoError(t, err)
	assert.Equal(t, fixture, back)
}

func TestLZ4AKLongLengths(t *testing.T) {
	data := append(sample(600, 3), bytes.Repeat([]byte{'z'}, 4000)...)
	comp, err := Compress(data, uint32(LZ4AK))
	require.NoError(t, err)
	out, err := Decompress(comp, len(data), uint32(LZ4AK))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecompressErrors(t *testing.T) {
	_, err := Decompress([]byte{1, 2, 3}, 3, 9)
	assert.True(t, errors.Is(err, ErrUnknownAlgorithm))

	_, err = Decompress([]byte{1, 2, 3}, 4, uint32(None))
	assert.True(t, errors.Is(err, ErrSizeMismatch))

	comp, err := Compress([]byte("hello hello hello hello"), uint32(LZ4))
	require.NoError(t, err)
	_, err = Decompress(comp, 10, uint32(LZ4))
	assert.Error(t, err)
}

func TestGeneralRoundTrip(t *testing.T) {
	data := sample(50<<10, 11)
	for _, kind := range []Kind{KindNone, KindLZ4, KindLZMA, KindBrotli} {
		comp, err := CompressGeneral(kind, data)
		require.NoError(t, err, kind.String())
		out, err := DecompressGeneral(kind, comp, len(data))
		require.NoError(t, err, kind.String())
		assert.Equal(t, data, out, kind.String())
	}

	_, err := DecompressGeneral(Kind(9), data, len(data))
	assert.True(t, errors.Is(err, ErrUnknownAlgorithm))
}

func TestGzip(t *testing.T) {
	data := sample(4096, 5)
	gz, err := Gzip(data)
	require.NoError(t, err)
	assert.True(t, IsGzip(gz))
	out, err := Gunzip(gz)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}
