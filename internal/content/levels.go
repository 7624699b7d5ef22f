package content

// LevelInfo describes one difficulty tier of the daily lessons.
type LevelInfo struct {
	Name        string
	Description string
}

// Levels is the fixed difficulty ladder. Keys are the values stored on users.
var Levels = map[int]LevelInfo{
	1: {Name: "Beginner", Description: "very simple, 1-3 words"},
	2: {Name: "Elementary", Description: "simple sentences, 4-6 words"},
	3: {Name: "Intermediate", Description: "moderate complexity, 7-10 words"},
	4: {Name: "Advanced", Description: "complex sentences, 11-15 words"},
	5: {Name: "Expert", Description: "very complex, 16+ words"},
}

const (
	MinLevel = 1
	MaxLevel = 5
)

func ValidLevel(level int) bool { return level >= MinLevel && level <= MaxLevel }

// fallbacks are canned lessons used when the generator is down and a lesson
// must still be delivered (the post-payment welcome). The daily batch never
// uses these; it skips the level instead.
var fallbacks = map[int]Lesson{
	1: {
		ThaiText: "สวัสดี",
		English:  "Hello",
		Words:    []Word{{Word: "สวัสดี", Meaning: "hello", Pinyin: "sawat di"}},
	},
	2: {
		ThaiText: "ฉันชื่อจอห์น",
		English:  "My name is John",
		Words: []Word{
			{Word: "ฉัน", Meaning: "I", Pinyin: "chan"},
			{Word: "ชื่อ", Meaning: "name", Pinyin: "chue"},
			{Word: "จอห์น", Meaning: "John", Pinyin: "john"},
		},
	},
	3: {
		ThaiText: "วันนี้อากาศดีมาก",
		English:  "The weather is very nice today",
		Words: []Word{
			{Word: "วันนี้", Meaning: "today", Pinyin: "wan ni"},
			{Word: "อากาศ", Meaning: "weather", Pinyin: "akat"},
			{Word: "ดี", Meaning: "good", Pinyin: "di"},
			{Word: "มาก", Meaning: "very", Pinyin: "mak"},
		},
	},
	4: {
		ThaiText: "ฉันชอบอ่านหนังสือในห้องสมุด",
		English:  "I like reading books in the library",
		Words: []Word{
			{Word: "ฉัน", Meaning: "I", Pinyin: "chan"},
			{Word: "ชอบ", Meaning: "like", Pinyin: "chop"},
			{Word: "อ่าน", Meaning: "read", Pinyin: "an"},
			{Word: "หนังสือ", Meaning: "book", Pinyin: "nangsue"},
			{Word: "ใน", Meaning: "in", Pinyin: "nai"},
			{Word: "ห้องสมุด", Meaning: "library", Pinyin: "hong samut"},
		},
	},
	5: {
		ThaiText: "ประเทศไทยเป็นประเทศที่มีวัฒนธรรมที่สวยงามและมีประวัติศาสตร์ที่ยาวนาน",
		English:  "Thailand is a country with beautiful culture and long history",
		Words: []Word{
			{Word: "ประเทศไทย", Meaning: "Thailand", Pinyin: "prathet thai"},
			{Word: "เป็น", Meaning: "is", Pinyin: "pen"},
			{Word: "ประเทศ", Meaning: "country", Pinyin: "prathet"},
			{Word: "วัฒนธรรม", Meaning: "culture", Pinyin: "watthanatham"},
			{Word: "สวยงาม", Meaning: "beautiful", Pinyin: "suai ngam"},
			{Word: "ประวัติศาสตร์", Meaning: "history", Pinyin: "prawatisat"},
			{Word: "ยาวนาน", Meaning: "long (time)", Pinyin: "yao nan"},
		},
	},
}

// Fallback returns a canned lesson for the level. Unknown levels get the
// simplest one.
func Fallback(level int) Lesson {
	if l, ok := fallbacks[level]; ok {
		return l
	}
	return fallbacks[1]
}

// pinyinFallback fills in romanizations the generator occasionally omits.
var pinyinFallback = map[string]string{
	"ฉัน":    "chan",
	"ชอบ":    "chop",
	"กิน":    "gin",
	"ข้าว":   "khao",
	"ผัด":    "phat",
	"วันนี้": "wan ni",
	"กับ":    "kap",
	"ปลา":    "pla",
	"น้ำ":    "nam",
	"ดี":     "di",
	"มาก":    "mak",
	"สวัสดี": "sawat di",
	"ครับ":   "khrap",
	"ค่ะ":    "kha",
}
