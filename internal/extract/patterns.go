package extract

import (
	"regexp"

	"submarine/internal/types"
)

// Confidence per extractor family. Validated identifiers carry a checksum;
// plain regex matches do not; name extraction is heuristic.
const (
	ConfidenceValidated = 0.9
	ConfidenceRegex     = 0.7
	ConfidencePerson    = 0.6
	ConfidenceCompany   = 0.65
)

// maxNamesPerPage caps person and company names per page. Name regexes are
// noisy on prose; past this point additional matches are boilerplate.
const maxNamesPerPage = 25

// patternDef is one fast-pass extractor. When capture > 0, that group is the
// value. When validate is set, matches failing it are dropped and survivors
// get ConfidenceValidated.
type patternDef struct {
	entityType types.EntityType
	re         *regexp.Regexp
	capture    int
	confidence float64
	validate   func(string) bool
}

var fastPatterns = []patternDef{
	{
		entityType: types.EntityEmail,
		re:         regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		confidence: ConfidenceRegex,
	},
	{
		// International prefix required; bare local numbers are noise.
		entityType: types.EntityPhone,
		re:         regexp.MustCompile(`(?:\+|00)[1-9][0-9\s\-().]{6,18}[0-9]`),
		confidence: ConfidenceRegex,
	},
	{
		entityType: types.EntityURL,
		re:         regexp.MustCompile(`https?://[^\s<>"')]+`),
		confidence: ConfidenceRegex,
	},
	{
		entityType: types.EntityIBAN,
		re:         regexp.MustCompile(`\b[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}\b`),
		confidence: ConfidenceValidated,
		validate:   ValidateIBAN,
	},
	{
		entityType: types.EntityLEI,
		re:         regexp.MustCompile(`\b[A-Z0-9]{18}[0-9]{2}\b`),
		confidence: ConfidenceValidated,
		validate:   ValidateLEI,
	},
	{
		entityType: types.EntitySWIFT,
		re:         regexp.MustCompile(`\b[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}(?:[A-Z0-9]{3})?\b`),
		confidence: ConfidenceRegex,
	},
	{
		// VAT numbers only count next to a VAT keyword.
		entityType: types.EntityVAT,
		re:         regexp.MustCompile(`(?i)\bVAT\s*(?:no|number|id|reg(?:istration)?)?\.?\s*:?\s*([A-Z]{2}\s?[0-9A-Za-z]{8,12})\b`),
		capture:    1,
		confidence: ConfidenceRegex,
	},
	{
		entityType: types.EntityNationalID,
		re:         regexp.MustCompile(`(?i)\b(?:passport|national\s+id|identity\s+card)\s*(?:no|number|#)?\.?\s*:?\s*([A-Z0-9]{6,12})\b`),
		capture:    1,
		confidence: ConfidenceRegex,
	},
	{
		entityType: types.EntityBTCAddress,
		re:         regexp.MustCompile(`\b(?:bc1[a-z0-9]{25,62}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})\b`),
		confidence: ConfidenceRegex,
	},
	{
		entityType: types.EntityETHAddress,
		re:         regexp.MustCompile(`\b0x[a-fA-F0-9]{40}\b`),
		confidence: ConfidenceRegex,
	},
}

// companyPattern requires a run of capitalized words ending in a legal-form
// suffix, so prose before the name cannot bleed into the match.
var companyPattern = regexp.MustCompile(
	`\b((?:[A-Z][A-Za-z0-9&.\-']*\s+){0,4}[A-Z][A-Za-z0-9&.\-']*\s+` +
		`(?:Ltd|LLC|Inc|Corp|PLC|SA|AG|GmbH|BV|NV|SRL|Limited|Incorporated|Corporation|Holdings|Group)\.?)(?:\s|$|[,;)])`)

// personPattern matches two to four capitalized words.
var personPattern = regexp.MustCompile(`\b[A-Z][a-z]{1,19}(?:\s+[A-Z][a-z'\-]{1,19}){1,3}\b`)

// personStopwords are page furniture and role words stripped from the front
// of person candidates.
var personStopwords = map[string]bool{
	"The": true, "This": true, "That": true, "These": true, "Those": true,
	"New": true, "North": true, "South": true, "East": true, "West": true,
	"United": true, "Privacy": true, "Terms": true, "About": true,
	"Contact": true, "Home": true, "All": true, "More": true, "Read": true,
	"Click": true, "Copyright": true, "Learn": true, "Our": true,
	"Your": true, "Get": true, "Sign": true, "Log": true,
	"Director": true, "Directors": true, "Manager": true, "President": true,
	"Chairman": true, "Officer": true, "Secretary": true, "Chief": true,
	"Senior": true, "Managing": true, "Executive": true, "Founder": true,
	"Partner": true, "Mr": true, "Mrs": true, "Ms": true, "Dr": true,
}
