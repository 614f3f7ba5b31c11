package stealth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/cookiekeeper/internal/config"
)

func TestFromConfig(t *testing.T) {
	t.Run("Empty config keeps defaults", func(t *testing.T) {
		assert.Equal(t, DefaultPersona, FromConfig(config.BrowserConfig{}))
	})

	t.Run("Overrides", func(t *testing.T) {
		p := FromConfig(config.BrowserConfig{UserAgent: "UA/1.0", Locale: "de-DE", Timezone: "Europe/Berlin"})
		assert.Equal(t, "UA/1.0", p.UserAgent)
		assert.Equal(t, "Europe/Berlin", p.Timezone)
		assert.Equal(t, []string{"de-DE", "de"}, p.Languages)
		assert.Equal(t, DefaultPersona.Platform, p.Platform)
	})
}

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "en-US,en;q=0.9", DefaultPersona.AcceptLanguage())
	assert.Equal(t, "fr", Persona{Languages: []string{"fr"}}.AcceptLanguage())
	assert.Equal(t, "", Persona{}.AcceptLanguage())
}

func TestScript(t *testing.T) {
	script, err := DefaultPersona.Script()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(script, `const persona = {"platform":"Win32","languages":["en-US","en"]};`))
	assert.Contains(t, script, "'webdriver'")
	// The user agent is set over CDP, not leaked into the page script.
	assert.NotContains(t, script, DefaultPersona.UserAgent)
}

func TestApply(t *testing.T) {
	t.Run("Full persona", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		tasks := Apply(DefaultPersona, zap.New(core))

		// user agent, evasions, timezone, locale, headers
		assert.Len(t, tasks, 5)
		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "Applying browser stealth persona.", logs.All()[0].Message)
	})

	t.Run("Minimal persona skips optional overrides", func(t *testing.T) {
		tasks := Apply(Persona{UserAgent: "UA/1.0"}, zap.NewNop())
		assert.Len(t, tasks, 2)
	})

	t.Run("Nil logger", func(t *testing.T) {
		assert.NotPanics(t, func() { Apply(DefaultPersona, nil) })
	})
}
