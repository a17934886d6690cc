package i18n

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "birthdaybot/pkg/logx"
)

// Every id used by the bot exists in every shipped locale.
func TestLocaleIntegrity(t *testing.T) {
	cmds := []string{"start", "help", "add", "del", "list", "calc", "upcoming", "export"}
	for _, lang := range []string{"en", "ru"} {
		b, err := localeFS.ReadFile("locales/active." + lang + ".json")
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(b, &m), lang)

		for _, id := range AllMessages {
			assert.Contains(t, m, id, "%s missing %s", lang, id)
		}
		for _, c := range cmds {
			assert.Contains(t, m, CommandDescription(c), "%s missing %s", lang, c)
		}
	}
}

func TestCatalogFallbacks(t *testing.T) {
	c, err := New("", logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "ru"}, c.Languages())
	assert.Equal(t, "en", c.Default())

	assert.Equal(t, "ru", c.For("ru").Lang())
	assert.Equal(t, "ru", c.For("ru-RU").Lang())
	assert.Equal(t, "en", c.For("de").Lang())
	assert.Equal(t, "en", c.For("").Lang())
	assert.Same(t, c.For("ru"), c.For(" RU "))

	ru, err := New("ru", logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, "ru", ru.For("").Lang())
	assert.Equal(t, "en", ru.For("en").Lang())

	bad, err := New("xx", logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, "en", bad.Default())
}

func TestRender(t *testing.T) {
	c, err := New("en", logx.Nop())
	require.NoError(t, err)

	en := c.For("en")
	assert.Equal(t, "Added birthday: Ann, 05.06.1990", en.T(MsgAddOK, map[string]any{"Name": "Ann", "Date": "05.06.1990"}))
	assert.Equal(t, "1 day left until Ann's birthday", en.N(MsgCalcDays, 1, map[string]any{"Name": "Ann"}))
	assert.Equal(t, "3 days left until Ann's birthday", en.N(MsgCalcDays, 3, map[string]any{"Name": "Ann"}))
	assert.Equal(t, "no.such.id", en.T("no.such.id", nil))

	ru := c.For("ru")
	assert.Equal(t, "Остался 21 день до дня рождения Ann", ru.N(MsgCalcDays, 21, map[string]any{"Name": "Ann"}))
	assert.Equal(t, "Осталось 3 дня до дня рождения Ann", ru.N(MsgCalcDays, 3, map[string]any{"Name": "Ann"}))
	assert.Equal(t, "Осталось 11 дней до дня рождения Ann", ru.N(MsgCalcDays, 11, map[string]any{"Name": "Ann"}))
}
