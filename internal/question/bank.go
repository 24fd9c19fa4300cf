package question

import (
	"fmt"
	"math/rand/v2"

	"quizalarm/internal/alarm"
)

// entry is one hand-authored question. Distractors are only used when the
// multiple choice form is requested.
type entry struct {
	Text        string
	Answer      string
	Distractors [3]string
}

// Bank is the fixed local fallback set, at least five entries per category.
type Bank struct {
	entries map[alarm.Category][]entry
}

// IntN returns a number in [0, n). rand.IntN in production, fixed in tests.
type IntN func(n int) int

func NewBank() *Bank {
	return &Bank{entries: builtin}
}

// Size reports how many questions the bank holds for c.
func (b *Bank) Size(c alarm.Category) int { return len(b.entries[c]) }

// Pick selects uniformly at random from c's entries (the default category for
// unknown ones) and renders it in format f. The result's Category is always c
// when c is known.
func (b *Bank) Pick(c alarm.Category, f alarm.Format, intn IntN) alarm.Question {
	if intn == nil {
		intn = rand.IntN
	}
	cat := c
	list := b.entries[cat]
	if len(list) == 0 {
		cat = alarm.DefaultCategory
		list = b.entries[cat]
	}
	i := intn(len(list))
	e := list[i]
	q := alarm.Question{
		ID:            fmt.Sprintf("bank-%s-%d", cat, i),
		Text:          e.Text,
		CorrectAnswer: e.Answer,
		Category:      cat,
		Format:        alarm.FormatOpenEnded,
	}
	if f != alarm.FormatMultipleChoice {
		return q
	}
	q.Format = alarm.FormatMultipleChoice
	q.Options = make([]alarm.Option, 0, 4)
	for _, d := range e.Distractors {
		q.Options = append(q.Options, alarm.Option{Text: d})
	}
	pos := intn(len(q.Options) + 1)
	q.Options = append(q.Options, alarm.Option{})
	copy(q.Options[pos+1:], q.Options[pos:])
	q.Options[pos] = alarm.Option{Text: e.Answer, Correct: true}
	return q
}

var builtin = map[alarm.Category][]entry{
	alarm.CategoryMath: {
		{"What is 7 × 8?", "56", [3]string{"54", "58", "64"}},
		{"What is 144 ÷ 12?", "12", [3]string{"11", "13", "14"}},
		{"What is 15 + 27?", "42", [3]string{"41", "32", "52"}},
		{"What is 9 squared?", "81", [3]string{"72", "18", "99"}},
		{"What is 100 - 37?", "63", [3]string{"73", "67", "53"}},
		{"What is 25% of 80?", "20", [3]string{"25", "16", "40"}},
	},
	alarm.CategoryTrivia: {
		{"How many legs does a spider have?", "8", [3]string{"6", "10", "12"}},
		{"How many days are in a leap year?", "366", [3]string{"365", "364", "367"}},
		{"What color do you get by mixing blue and yellow?", "green", [3]string{"purple", "orange", "brown"}},
		{"How many minutes are in two hours?", "120", [3]string{"100", "60", "240"}},
		{"How many sides does a hexagon have?", "6", [3]string{"5", "7", "8"}},
	},
	alarm.CategoryScience: {
		{"What is the chemical symbol for water?", "H2O", [3]string{"CO2", "O2", "HO"}},
		{"Which planet is known as the Red Planet?", "Mars", [3]string{"Venus", "Jupiter", "Mercury"}},
		{"What gas do plants absorb from the air?", "carbon dioxide", [3]string{"oxygen", "nitrogen", "helium"}},
		{"At what temperature in Celsius does water freeze?", "0", [3]string{"32", "100", "-10"}},
		{"What is the closest star to Earth?", "the Sun", [3]string{"Sirius", "Polaris", "Vega"}},
	},
	alarm.CategoryGeography: {
		{"What is the capital of France?", "Paris", [3]string{"Lyon", "Marseille", "Nice"}},
		{"What is the largest ocean on Earth?", "Pacific", [3]string{"Atlantic", "Indian", "Arctic"}},
		{"On which continent is Egypt?", "Africa", [3]string{"Asia", "Europe", "South America"}},
		{"What is the capital of Japan?", "Tokyo", [3]string{"Osaka", "Kyoto", "Nagoya"}},
		{"Which river flows through London?", "Thames", [3]string{"Seine", "Danube", "Rhine"}},
	},
	alarm.CategoryVocabulary: {
		{"What is the opposite of 'ancient'?", "modern", [3]string{"old", "antique", "early"}},
		{"What is a synonym for 'happy'?", "joyful", [3]string{"gloomy", "tired", "angry"}},
		{"What do you call a word that means the opposite of another?", "antonym", [3]string{"synonym", "homonym", "acronym"}},
		{"What is the plural of 'mouse'?", "mice", [3]string{"mouses", "meese", "mouse"}},
		{"What is the past tense of 'run'?", "ran", [3]string{"runned", "running", "runs"}},
	},
}
