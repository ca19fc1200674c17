package reward

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/moodmnky/dojo/internal/store"
)

// CodeGenerator mints the external reference for a discount-code claim.
// Implementations may call out to a commerce backend; errors leave the claim
// pending for a later retry.
type CodeGenerator interface {
	Generate(ctx context.Context, reward store.RewardRecord, claimID string) (string, error)
}

// codeAlphabet avoids 0/O and 1/I so codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// PrefixCodeGenerator creates random local codes like "DOJO-K7KQW3ZX".
// It stands in wherever no commerce backend is wired up.
type PrefixCodeGenerator struct {
	// Prefix applies when the reward payload carries no code_prefix.
	Prefix string
}

// Generate returns a prefixed random code. The prefix comes from the reward
// payload when set, then the generator, then "DOJO".
func (g PrefixCodeGenerator) Generate(_ context.Context, reward store.RewardRecord, _ string) (string, error) {
	prefix := g.Prefix
	if p, err := ParsePayload(reward.Type, reward.Payload); err == nil && p.CodePrefix != "" {
		prefix = p.CodePrefix
	}
	if prefix == "" {
		prefix = "DOJO"
	}

	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return fmt.Sprintf("%s-%s", prefix, buf), nil
}
