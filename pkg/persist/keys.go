package persist

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/quadstore/pkg/rdf"
)

// Key prefixes. Everything except the meta record lives under a generation
// number, so a sync writes a complete new generation before switching the
// meta record to it and dropping the old one.
const (
	prefixMeta      = byte(0x01) // meta -> JSON(meta)
	prefixValue     = byte(0x02) // value:gen:digest -> N-Triples term
	prefixStatement = byte(0x03) // stmt:gen:s:p:o:c -> flags
	prefixNamespace = byte(0x04) // ns:gen:prefix -> namespace IRI
)

const (
	digestSize   = 16
	genSize      = 4
	flagExplicit = byte(0x01)
)

// digest is the content address of a term: a 16-byte blake2b hash of its
// N-Triples form. The zero digest stands for the default graph.
type digest [digestSize]byte

func termDigest(v rdf.Value) digest {
	var d digest
	if v == nil {
		return d
	}
	h, err := blake2b.New(digestSize, nil)
	if err != nil {
		// Only possible for an invalid size or key.
		panic(err)
	}
	h.Write([]byte(rdf.Canonical(v).String()))
	copy(d[:], h.Sum(nil))
	return d
}

func metaKey() []byte {
	return []byte{prefixMeta}
}

func generationPrefix(prefix byte, gen uint32) []byte {
	key := make([]byte, 1+genSize, 1+genSize+4*digestSize)
	key[0] = prefix
	binary.BigEndian.PutUint32(key[1:], gen)
	return key
}

func valueKey(gen uint32, d digest) []byte {
	return append(generationPrefix(prefixValue, gen), d[:]...)
}

func statementKey(gen uint32, s, p, o, c digest) []byte {
	key := generationPrefix(prefixStatement, gen)
	key = append(key, s[:]...)
	key = append(key, p[:]...)
	key = append(key, o[:]...)
	return append(key, c[:]...)
}

// decodeStatementKey splits a statement key into its four digests.
func decodeStatementKey(key []byte) (s, p, o, c digest, ok bool) {
	body := key[1+genSize:]
	if len(body) != 4*digestSize {
		return s, p, o, c, false
	}
	copy(s[:], body[0:])
	copy(p[:], body[digestSize:])
	copy(o[:], body[2*digestSize:])
	copy(c[:], body[3*digestSize:])
	return s, p, o, c, true
}

func namespaceKey(gen uint32, prefix string) []byte {
	return append(generationPrefix(prefixNamespace, gen), prefix...)
}
