package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"sync"
)

const (
	MIN_MULTIPLIER = 1.00

	// 13 hex chars = 52 bits of the digest drive the outcome
	DIGEST_PREFIX_LEN = 13
)

// CrashPoint derives the crash multiplier for one round. It is a pure
// function of (serverSeed, clientSeed, nonce): anyone holding the revealed
// server seed can recompute it.
func CrashPoint(serverSeedHex, clientSeed string, nonce int64, houseEdge, maxMultiplier float64) float64 {
	digest := hmacDigest(serverSeedHex, fmt.Sprintf("%s:%d", clientSeed, nonce))

	v, _ := strconv.ParseUint(digest[:DIGEST_PREFIX_LEN], 16, 64)
	u := float64(v) / float64(uint64(1)<<(4*DIGEST_PREFIX_LEN))
	if u > 1.0-1e-12 {
		u = 1.0 - 1e-12
	}

	denom := 1.0 - u*(1.0-houseEdge)
	if denom < 1e-12 {
		denom = 1e-12
	}
	m := 1.0 / denom
	if m > maxMultiplier {
		m = maxMultiplier
	}
	return round2(m)
}

// Verify recomputes a round outcome from a revealed seed.
func Verify(serverSeedHex, clientSeed string, nonce int64, houseEdge, maxMultiplier, claimed float64) bool {
	return CrashPoint(serverSeedHex, clientSeed, nonce, houseEdge, maxMultiplier) == claimed
}

// GenerateSeed creates a cryptographically secure random seed (32 bytes, hex).
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashCommitment is the public commitment to a server seed: SHA256 over the
// raw seed bytes, published before the seed governs any round.
func HashCommitment(seedHex string) string {
	raw, err := hex.DecodeString(seedHex)
	if err != nil {
		raw = []byte(seedHex)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func hmacDigest(serverSeedHex, message string) string {
	key, err := hex.DecodeString(serverSeedHex)
	if err != nil {
		key = []byte(serverSeedHex)
	}
	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// Rotation is the result of retiring a seed epoch: the old seed is revealed
// for verification and the next epoch's commitment is published.
type Rotation struct {
	PreviousSeed string `json:"previous_server_seed"`
	PreviousHash string `json:"previous_server_seed_hash"`
	NewHash      string `json:"new_server_seed_hash"`
}

// SeedChain holds the current server seed epoch: the secret seed, its public
// commitment, and a strictly increasing nonce. The seed never leaves the
// chain until Rotate.
type SeedChain struct {
	mu         sync.Mutex
	serverSeed string
	seedHash   string
	nonce      int64
}

func NewSeedChain() *SeedChain {
	seed := GenerateSeed()
	return &SeedChain{
		serverSeed: seed,
		seedHash:   HashCommitment(seed),
	}
}

// Commitment returns the published hash of the current server seed.
func (sc *SeedChain) Commitment() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.seedHash
}

// Draw is one consumed outcome of a seed epoch: the nonce, the crash point it
// produces, the commitment hashing the seed that produced it, and the result
// signature under that same seed.
type Draw struct {
	Nonce      int64
	CrashPoint float64
	Commitment string
	Signature  string
}

// Next consumes the next nonce of the epoch and derives the round outcome in
// one critical section. The returned commitment and signature always belong
// to the seed that computed the crash point, even when a Rotate races the
// call. Nonces strictly increase until Rotate resets them.
func (sc *SeedChain) Next(clientSeed string, houseEdge, maxMultiplier float64) Draw {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.nonce++
	cp := CrashPoint(sc.serverSeed, clientSeed, sc.nonce, houseEdge, maxMultiplier)
	return Draw{
		Nonce:      sc.nonce,
		CrashPoint: cp,
		Commitment: sc.seedHash,
		Signature:  hmacDigest(sc.serverSeed, fmt.Sprintf("%s:%d:%.2f", clientSeed, sc.nonce, cp)),
	}
}

// Sign produces an HMAC signature over message under the current secret seed.
// It becomes verifiable once the seed is revealed at rotation.
func (sc *SeedChain) Sign(message string) string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return hmacDigest(sc.serverSeed, message)
}

// VerifySignature checks a signature produced by Sign under the current seed.
func (sc *SeedChain) VerifySignature(message, signature string) bool {
	sc.mu.Lock()
	expected := hmacDigest(sc.serverSeed, message)
	sc.mu.Unlock()
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// Rotate retires the current epoch: the old seed is revealed, a new seed is
// generated, its commitment published and the nonce reset to 0.
func (sc *SeedChain) Rotate() Rotation {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	rot := Rotation{
		PreviousSeed: sc.serverSeed,
		PreviousHash: sc.seedHash,
	}
	sc.serverSeed = GenerateSeed()
	sc.seedHash = HashCommitment(sc.serverSeed)
	sc.nonce = 0
	rot.NewHash = sc.seedHash
	return rot
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
