package khqr

import "strings"

// DefaultBankCode is used when a bank identifier is not in the table.
const DefaultBankCode = "001"

var bankCodes = map[string]string{
	"ABA":       "001",
	"ACLEDA":    "002",
	"WING":      "003",
	"MAYBANK":   "004",
	"ANZ":       "005",
	"BCEL":      "006",
	"CANADIA":   "007",
	"CDB":       "008",
	"EXIM":      "009",
	"FTB":       "010",
	"HONGLEONG": "011",
	"ICBCKH":    "012",
	"JDB":       "013",
	"KASIKORN":  "014",
	"KHMB":      "015",
	"KMB":       "016",
	"KIENLONG":  "017",
	"LBP":       "018",
	"MAYBANK2U": "019",
	"MKB":       "020",
	"NATIONAL":  "021",
	"PACLEDA":   "022",
	"PPI":       "023",
	"PRASAC":    "024",
	"SATHAPANA": "025",
	"SEAP":      "026",
	"SHB":       "027",
	"SIC":       "028",
	"SIV":       "029",
	"STB":       "030",
	"TPBANK":    "031",
	"TTB":       "032",
	"VATTANAC":  "033",
	"WOORI":     "034",
}

// BankCode resolves a bank identifier (case-insensitive) to its 3-digit
// code. Unknown identifiers resolve to DefaultBankCode with known=false.
func BankCode(id string) (code string, known bool) {
	code, known = bankCodes[strings.ToUpper(strings.TrimSpace(id))]
	if !known {
		return DefaultBankCode, false
	}
	return code, true
}
