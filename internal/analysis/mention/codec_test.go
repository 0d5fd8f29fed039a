package mention

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(m map[string]string) func(string) (string, bool) {
	return func(id string) (string, bool) {
		n, ok := m[id]
		return n, ok
	}
}

func ids(m map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		for id, n := range m {
			if n == name {
				return id, true
			}
		}
		return "", false
	}
}

func TestEncodeReplacesMentions(t *testing.T) {
	c := MustNew()
	users := map[string]string{"111": "Alice", "222": "Bob"}

	got := c.Encode("hey <@111> and <@!222>, meet <@333>", names(users))
	assert.Equal(t, "hey <Alice> and <Bob>, meet <UnknownUser:333>", got)
}

func TestEncodeWithoutResolverUsesPlaceholder(t *testing.T) {
	c := MustNew()
	assert.Equal(t, "<UnknownUser:9>", c.Encode("<@9>", nil))
}

func TestEncodeRejectsUnsafeDisplayNames(t *testing.T) {
	c := MustNew()
	got := c.Encode("<@1>", names(map[string]string{"1": "evil<@2>"}))
	assert.Equal(t, "<UnknownUser:1>", got)
}

func TestDecodeRestoresKnownNames(t *testing.T) {
	c := MustNew()
	users := map[string]string{"111": "Alice"}

	got := c.Decode("thanks <Alice>, ask <Carol> or <UnknownUser:333>", ids(users))
	assert.Equal(t, "thanks <@111>, ask <Carol> or <@333>", got)
}

func TestRoundTripIsIdentityOnPlainText(t *testing.T) {
	c := MustNew()
	users := map[string]string{"111": "Alice"}
	plain := []string{
		"",
		"just words",
		"a < b and c > d",
		"html <b>bold</b> stays",
		"emoji 🧚 and email me@example.com",
	}
	for _, text := range plain {
		encoded := c.Encode(text, names(users))
		assert.Equal(t, text, c.Decode(encoded, ids(users)), "text %q", text)
	}
}

func TestRoundTripIsLossyForSharedNames(t *testing.T) {
	c := MustNew()
	users := map[string]string{"1": "Sam", "2": "Sam"}
	resolveID := func(string) (string, bool) { return "1", true }

	got := c.Decode(c.Encode("<@2>", names(users)), resolveID)
	assert.Equal(t, "<@1>", got)
}

func TestSlackIDPattern(t *testing.T) {
	c, err := New(WithIDPattern(`[A-Z0-9]+`))
	require.NoError(t, err)

	got := c.Encode("<@U024BE7LH> hi", names(map[string]string{"U024BE7LH": "bob"}))
	assert.Equal(t, "<bob> hi", got)
	assert.Equal(t, "hi", c.StripBotMention("<@U024BE7LH> hi", "U024BE7LH"))
}

func TestStripBotMention(t *testing.T) {
	c := MustNew()
	assert.Equal(t, "hello <@222>  there", c.StripBotMention("<@111> hello <@222>  there <@!111>", "111"))
	assert.Equal(t, "hi", c.StripBotMention("  hi ", ""))
}

func TestStripBotMentionKeepsLayout(t *testing.T) {
	c := MustNew()
	got := c.StripBotMention("<@999> first line\n\n  indented code\nlast", "999")
	assert.Equal(t, "first line\n\n  indented code\nlast", got)
}

func TestIsBroadcast(t *testing.T) {
	assert.True(t, IsBroadcast("hey @everyone"))
	assert.True(t, IsBroadcast("<!here> look"))
	assert.False(t, IsBroadcast("hello <@1>"))
}

type stubResolver struct {
	calls int
	name  string
	err   error
}

func (s *stubResolver) DisplayName(context.Context, string) (string, error) {
	s.calls++
	return s.name, s.err
}

func TestDirectoryLearnsAndResolves(t *testing.T) {
	resolver := &stubResolver{name: "Remote"}
	d := NewDirectory(resolver)
	d.Learn("1", "Alice")

	ctx := context.Background()
	name, err := d.Name(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
	assert.Zero(t, resolver.calls)

	name, err = d.Name(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "Remote", name)

	_, err = d.Name(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, 1, resolver.calls, "resolved names are cached")

	id, ok := d.ID("alice")
	assert.True(t, ok)
	assert.Equal(t, "1", id)
}

func TestDirectoryRenameDropsOldName(t *testing.T) {
	d := NewDirectory(nil)
	d.Learn("1", "Alice")
	d.Learn("1", "Alicia")

	_, ok := d.ID("Alice")
	assert.False(t, ok)
	id, ok := d.ID("Alicia")
	assert.True(t, ok)
	assert.Equal(t, "1", id)
}

func TestDirectoryMissReportsUnresolved(t *testing.T) {
	d := NewDirectory(&stubResolver{err: errors.New("boom")})

	var missed []string
	resolve := d.NameFunc(context.Background(), func(id string, err error) {
		assert.ErrorIs(t, err, ErrUnresolved)
		missed = append(missed, id)
	})

	c := MustNew()
	assert.Equal(t, "<UnknownUser:5>", c.Encode("<@5>", resolve))
	assert.Equal(t, []string{"5"}, missed)
}
