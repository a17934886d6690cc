package bot

import (
	"context"
	"errors"
	"fmt"

	"birthdaybot/internal/i18n"
	kit "birthdaybot/internal/transport"
)

// menuCommands builds the localized command menu for names.
func menuCommands(l *i18n.Localizer, names []string) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(names))
	for _, n := range names {
		out = append(out, kit.BotCommand{Command: n, Description: l.T(i18n.CommandDescription(n), nil)})
	}
	return out
}

// PublishMenu sets the default command menu and one per shipped language.
// Every language is attempted; failures are joined.
func PublishMenu(ctx context.Context, up kit.CommandMenuUpdater, cat *i18n.Catalog, names []string) error {
	var errs []error
	if err := up.UpdateMenuCommands(ctx, "", menuCommands(cat.For(""), names)); err != nil {
		errs = append(errs, fmt.Errorf("default menu: %w", err))
	}
	for _, lang := range cat.Languages() {
		if err := up.UpdateMenuCommands(ctx, lang, menuCommands(cat.For(lang), names)); err != nil {
			errs = append(errs, fmt.Errorf("%s menu: %w", lang, err))
		}
	}
	return errors.Join(errs...)
}
