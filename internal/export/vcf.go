package export

import (
	"fmt"
	"io"

	"github.com/emersion/go-vcard"

	"birthdaybot/internal/birthday"
)

// writeVCF emits one vCard 4.0 per record with FN, BDAY and a stable UID.
func writeVCF(w io.Writer, recs []birthday.Record, opt Options) error {
	enc := vcard.NewEncoder(w)
	rev := opt.now().UTC()
	for _, r := range recs {
		card := vcard.Card{}
		card.SetValue(vcard.FieldFormattedName, r.Name)
		card.SetName(&vcard.Name{GivenName: r.Name})
		card.SetValue(vcard.FieldBirthday, fmt.Sprintf("%04d%02d%02d", r.Date.Year, int(r.Date.Month), r.Date.Day))
		card.SetValue(vcard.FieldUID, "urn:uuid:"+UID(r))
		card.SetRevision(rev)
		vcard.ToV4(card)
		if err := enc.Encode(card); err != nil {
			return fmt.Errorf("encode vcard %q: %w", r.Name, err)
		}
	}
	return nil
}
