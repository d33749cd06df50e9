package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ArtifactKind partitions the fingerprint space so a voice and a visual
// artifact derived from the same text never collide.
type ArtifactKind string

const (
	KindVoice  ArtifactKind = "voice"
	KindVisual ArtifactKind = "visual"
	KindQuiz   ArtifactKind = "quiz"
)

// Fingerprint is the deterministic identity of one generated artifact.
type Fingerprint string

// NormalizeText is the single normalization applied before fingerprinting:
// lowercase, whitespace collapsed to single spaces. Every call site goes
// through NewFingerprint so key construction cannot drift between callers.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NewFingerprint is the only constructor. scopeID pins the artifact to its
// owner: the turn id for voice, the turn id or topic scope for visuals, the
// session or user id for quizzes. sourceText is the generation input.
func NewFingerprint(kind ArtifactKind, scopeID string, sourceText string) Fingerprint {
	h := sha256.New()
	h.Write([]byte(string(kind)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(scopeID)))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeText(sourceText)))
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func (f Fingerprint) String() string {
	return string(f)
}
