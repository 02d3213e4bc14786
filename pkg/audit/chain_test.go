package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeChain(t *testing.T, payloads ...string) []Link {
	t.Helper()
	prev := ZeroHash
	links := make([]Link, 0, len(payloads))
	for _, p := range payloads {
		h, err := ChainHash(prev, []byte(p))
		require.NoError(t, err)
		links = append(links, Link{PrevHash: prev, Hash: h, Payload: []byte(p)})
		prev = h
	}
	return links
}

func TestChainHash_Deterministic(t *testing.T) {
	a, err := ChainHash(ZeroHash, []byte(`{"x":1,"y":2}`))
	require.NoError(t, err)
	b, err := ChainHash(ZeroHash, []byte(`{"y":2,"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, a, b, "key order does not change the canonical form")

	c, err := ChainHash(ZeroHash, []byte(`{"x":1,"y":3}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestChainHash_RejectsInvalidJSON(t *testing.T) {
	_, err := ChainHash(ZeroHash, []byte(`{broken`))
	assert.Error(t, err)
}

func TestVerifyChain_Valid(t *testing.T) {
	links := makeChain(t, `{"n":1}`, `{"n":2}`, `{"n":3}`)
	assert.NoError(t, VerifyChain(links))
	assert.NoError(t, VerifyChain(nil))
}

func TestVerifyChain_TamperedPayload(t *testing.T) {
	links := makeChain(t, `{"n":1}`, `{"n":2}`, `{"n":3}`)
	links[1].Payload = []byte(`{"n":999}`)

	err := VerifyChain(links)
	var broken *BrokenChainError
	require.ErrorAs(t, err, &broken)
	assert.Equal(t, 1, broken.Index)
}

func TestVerifyChain_BrokenLinkage(t *testing.T) {
	links := makeChain(t, `{"n":1}`, `{"n":2}`)
	links[1].PrevHash = ZeroHash

	err := VerifyChain(links)
	var broken *BrokenChainError
	require.ErrorAs(t, err, &broken)
	assert.Equal(t, 1, broken.Index)
}

func TestVerifyChain_WrongGenesis(t *testing.T) {
	links := makeChain(t, `{"n":1}`)
	links[0].PrevHash = "ff"

	err := VerifyChain(links)
	var broken *BrokenChainError
	require.ErrorAs(t, err, &broken)
	assert.Equal(t, 0, broken.Index)
}
