package vocabulary

import (
	"encoding/xml"
	"io"
	"strings"
)

// The ICD-10-CM tabular list nests diagnoses as chapter > section > diag,
// with diag nodes nesting further per code level.
type tabularList struct {
	XMLName  xml.Name         `xml:"ICD10CM.tabular"`
	Chapters []tabularChapter `xml:"chapter"`
}

type tabularChapter struct {
	Sections []tabularSection `xml:"section"`
}

type tabularSection struct {
	Diagnoses []*tabularDiag `xml:"diag"`
}

type tabularDiag struct {
	Code           string              `xml:"name"`
	Description    string              `xml:"desc"`
	Includes       []string            `xml:"includes>note"`
	InclusionTerms []string            `xml:"inclusionTerm>note"`
	SeventhCharDef []*tabularExtension `xml:"sevenChrDef>extension"`
	Subcategories  []*tabularDiag      `xml:"diag"`
}

type tabularExtension struct {
	Character string `xml:"char,attr"`
	Value     string `xml:",chardata"`
}

// decodeTabular emits one record per billable code: every leaf diag, and
// for categories carrying a seventh-character definition every leaf code
// extended with each seventh character.
func decodeTabular(r io.Reader) ([]Record, error) {
	var list tabularList
	if err := xml.NewDecoder(r).Decode(&list); err != nil {
		return nil, err
	}
	var records []Record
	for _, chapter := range list.Chapters {
		for _, section := range chapter.Sections {
			for _, diag := range section.Diagnoses {
				records = collectBillable(diag, nil, records)
			}
		}
	}
	return records, nil
}

func collectBillable(d *tabularDiag, inherited []*tabularExtension, out []Record) []Record {
	extensions := inherited
	if len(d.SeventhCharDef) > 0 {
		extensions = d.SeventhCharDef
	}
	if len(d.Subcategories) > 0 {
		for _, sub := range d.Subcategories {
			out = collectBillable(sub, extensions, out)
		}
		return out
	}

	synonyms := make([]string, 0, len(d.InclusionTerms)+len(d.Includes))
	synonyms = append(synonyms, d.InclusionTerms...)
	synonyms = append(synonyms, d.Includes...)
	if len(extensions) == 0 {
		return append(out, Record{Code: d.Code, Description: d.Description, Synonyms: synonyms})
	}
	for _, ext := range extensions {
		out = append(out, Record{
			Code:        withSeventhCharacter(d.Code, ext.Character),
			Description: d.Description + ", " + strings.TrimSpace(ext.Value),
			Synonyms:    synonyms,
		})
	}
	return out
}

// withSeventhCharacter pads code with X placeholders so char lands in the
// seventh position: S52 + A = S52.XXXA, S52.52 + A = S52.52XA.
func withSeventhCharacter(code, char string) string {
	code = strings.TrimSpace(code)
	if !strings.ContainsRune(code, '.') {
		code += "."
	}
	if pad := 7 - len(code); pad > 0 {
		code += strings.Repeat("X", pad)
	}
	return code + strings.TrimSpace(char)
}
