package skills

import (
	"regexp"
	"strings"
	"unicode"
)

// Intent is an explicit lexical request found in a contact message.
type Intent string

const (
	IntentNone         Intent = ""
	IntentHandover     Intent = "handover"
	IntentComplaint    Intent = "complaint"
	IntentUrgency      Intent = "urgency"
	IntentRefund       Intent = "refund"
	IntentCancellation Intent = "cancellation"
	IntentPrivacy      Intent = "privacy"
)

type intentPattern struct {
	intent Intent
	re     *regexp.Regexp
}

// Patterns run on folded text; Turkish stems match with any suffix.
var intentPatterns = []intentPattern{
	{IntentComplaint, regexp.MustCompile(`\b(sikayet|memnun\s+degil|rezalet|complain|complaint|unhappy\s+with)`)},
	{IntentUrgency, regexp.MustCompile(`\b(acil(en)?|hemen\s+donus|urgent(ly)?|emergency|asap)\b`)},
	{IntentRefund, regexp.MustCompile(`\b(iade|para(mi)?\s+geri|refund|money\s+back|chargeback)`)},
	{IntentCancellation, regexp.MustCompile(`\b(iptal|abonelig\w*\s+sonlandir|cancel|unsubscribe)`)},
	{IntentPrivacy, regexp.MustCompile(`\b(kvkk|kisisel\s+veri|gizlilik|verilerimi\s+sil|privacy|gdpr|personal\s+data|delete\s+my\s+data)`)},
	{IntentHandover, regexp.MustCompile(`\b(baglay|baglar\s+mi|temsilci|operator(e|le|la)\b|(an|the|to)\s+operator\b|yetkili(ye|yle|\s+(biri|kisi|ile))\b|insan(la|a)\s+(konus|gorus|bagla)|canli\s+destek|musteri\s+hizmet|gercek\s+(bir\s+)?(kisi|insan)|(a|real|live)\s+human\b|(human|live|real)\s+agent|representative|real\s+person|live\s+(chat|support)|(speak|talk)\s+to\s+(someone|a\s+person))`)},
}

var folder = strings.NewReplacer(
	"ç", "c", "Ç", "c",
	"ğ", "g", "Ğ", "g",
	"ı", "i", "I", "i", "İ", "i", "î", "i", "Î", "i",
	"ö", "o", "Ö", "o",
	"ş", "s", "Ş", "s",
	"ü", "u", "Ü", "u", "û", "u", "Û", "u",
	"â", "a", "Â", "a",
)

// Fold strips Turkish diacritics and lower-cases text.
func Fold(text string) string {
	return strings.ToLower(folder.Replace(text))
}

// DetectIntent returns the first explicit intent found in text.
func DetectIntent(text string) Intent {
	folded := Fold(text)
	for _, p := range intentPatterns {
		if p.re.MatchString(folded) {
			return p.intent
		}
	}
	return IntentNone
}

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		acaba ama ancak artik bana beni benim bile bir biraz birsey biz bize bizim bunu buna bunlar
		bundan burada cok daha diye eger gibi hakkinda hala hem hep her hic icin ile ise istiyorum
		istiyoruz kadar kendi konuda konusunda lazim lutfen merhaba misiniz musunuz nasil neden nedir
		olarak olan olur sadece siz size sizin soyle sunu tamam tesekkur veya yani yine
		about again also and any are been but can could does for from have hello her here his how
		just like more need please that the their them then there these they this want was what when
		where which will with would you your`) {
		stopWords[w] = struct{}{}
	}
}

// Tokens returns the folded words of text with at least three runes, minus stop words.
func Tokens(text string) map[string]struct{} {
	out := map[string]struct{}{}
	fields := strings.FieldsFunc(Fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

// Jaccard is |a∩b| / |a∪b|, zero when both are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
