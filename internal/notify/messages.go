package notify

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

var defaultLocale = language.English

var supportedLocales = []language.Tag{language.English, language.Indonesian}

var messageTemplates = map[Kind]map[language.Tag]string{
	KindApprovalRequested: {
		language.English:    "%[1]s %[2]s is waiting for your approval",
		language.Indonesian: "%[1]s %[2]s menunggu persetujuan Anda",
	},
	KindApproved: {
		language.English:    "%[1]s %[2]s was approved",
		language.Indonesian: "%[1]s %[2]s telah disetujui",
	},
	KindRejected: {
		language.English:    "%[1]s %[2]s was rejected: %[3]s",
		language.Indonesian: "%[1]s %[2]s ditolak: %[3]s",
	},
	KindRecalled: {
		language.English:    "%[1]s %[2]s was withdrawn from review",
		language.Indonesian: "%[1]s %[2]s ditarik dari peninjauan",
	},
	KindPosted: {
		language.English:    "%[1]s %[2]s was posted",
		language.Indonesian: "%[1]s %[2]s telah diposting",
	},
	KindClosed: {
		language.English:    "%[1]s %[2]s was closed",
		language.Indonesian: "%[1]s %[2]s telah ditutup",
	},
}

var documentNames = map[string]string{
	"Purchase Requisition": "Permintaan Pembelian",
	"Purchase Order":       "Pesanan Pembelian",
	"Customer Order":       "Pesanan Pelanggan",
	"Delivery Order":       "Surat Jalan",
	"Sales Invoice":        "Faktur Penjualan",
}

// Messages renders notification text in one locale.
type Messages struct {
	printer *message.Printer
}

// NewMessages builds a renderer for the closest supported match of tag.
func NewMessages(tag language.Tag) (*Messages, error) {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for kind, byLang := range messageTemplates {
		for lang, tmpl := range byLang {
			if err := b.SetString(lang, string(kind), tmpl); err != nil {
				return nil, err
			}
		}
	}
	for en, id := range documentNames {
		if err := b.SetString(language.English, en, en); err != nil {
			return nil, err
		}
		if err := b.SetString(language.Indonesian, en, id); err != nil {
			return nil, err
		}
	}
	_, idx, _ := language.NewMatcher(supportedLocales).Match(tag)
	return &Messages{printer: message.NewPrinter(supportedLocales[idx], message.Catalog(b))}, nil
}

// Render formats the message of kind for a document.
func (m *Messages) Render(kind Kind, docName, docNo, notes string) string {
	name := m.printer.Sprintf(docName)
	if kind == KindRejected {
		return m.printer.Sprintf(string(kind), name, docNo, notes)
	}
	return m.printer.Sprintf(string(kind), name, docNo)
}
