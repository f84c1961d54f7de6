package extract

import "regexp"

// Patterns are compiled once. Korean has no ASCII word boundaries, so only
// the English patterns use \b.
var (
	eventKeywordRe = regexp.MustCompile(`미팅|회의|약속|일정|통화|면접|식사|점심|워크샵|세미나|발표|(?i:\b(?:meeting|call|appointment|sync|lunch|dinner|interview|workshop|standup|demo)\b)`)
	todoKeywordRe  = regexp.MustCompile(`할\s*일|투두|작업|과제|마감|제출|보고서|정리|작성|준비|검토|(?i:\b(?:todo|to-do|task|deadline|remind me|due|finish|submit|prepare)\b)`)
	placeKeywordRe = regexp.MustCompile(`장소|위치|주소|(?i:\b(?:location|address|venue)\b)`)

	// An event keyword alone is not a request to create one: "회의 어땠는지
	// 알려줘" asks about a meeting. Events need a creation verb as well.
	eventVerbRe = regexp.MustCompile(`잡(?:아|자|을|고|읍)|등록|예약|추가|만들|넣어|하자|합시다|(?i:\b(?:schedule|book|set up|arrange|add|create|put)\b)`)
	// Cancellations and questions about the past never yield a candidate.
	cancelRe     = regexp.MustCompile(`취소|연기|미뤄|미루|말고|빼줘|삭제|(?i:\b(?:cancel(?:l?ed)?|postpone|call(?:ed)? off|remove|delete)\b)`)
	retrospectRe = regexp.MustCompile(`어땠|했었|했던|었는지|였는지|뭐였|결정됐|(?i:\b(?:what|how|when|who|why)\b.*\b(?:decided|agreed|said|discussed|went|happened)\b|\brecap\b)`)

	requestRe = regexp.MustCompile(`줘|주세요|주실래|줄래|부탁|하자|합시다|잡자|해야|바랍니다|할까요|(?i:\b(?:please|let'?s|can you|could you|would you|need to|remind me|schedule|set up|book|add|create|share|send)\b)`)
	shareRe   = regexp.MustCompile(`공유|보내|알려|(?i:\b(?:share|send)\b)`)

	isoDateRe     = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
	koDateRe      = regexp.MustCompile(`(\d{1,2})\s*월\s*(\d{1,2})\s*일`)
	slashDateRe   = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})\b`)
	koWeekdayRe   = regexp.MustCompile(`(이번\s*주|다음\s*주|담주|차주)?\s*(월|화|수|목|금|토|일)요일`)
	enWeekdayRe   = regexp.MustCompile(`(?i)\b(this|next)?\s*(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	koRelativeRe  = regexp.MustCompile(`오늘|내일|모레|글피`)
	enRelativeRe  = regexp.MustCompile(`(?i)\b(day after tomorrow|today|tonight|tomorrow)\b`)
	enMeridiemRe  = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)`)
	colonTimeRe   = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	koTimeRe      = regexp.MustCompile(`(오전|오후|아침|저녁|밤|낮)?\s*(\d{1,2})\s*시(?:\s*(\d{1,2})\s*분|\s*(반))?`)
	namedTimeRe   = regexp.MustCompile(`정오|자정|(?i:\b(?:noon|midnight)\b)`)
	urlRe         = regexp.MustCompile(`https?://[^\s]+`)
	koPlaceNameRe = regexp.MustCompile(`(?:장소|위치|주소)\s*(?:는|은|:)?\s*([^\n,.!?]+)`)
	enPlaceNameRe = regexp.MustCompile(`(?i)\b(?:location|address|venue)\s*(?:is|:)?\s*([^\n,.!?]+)`)
	hangulRe      = regexp.MustCompile(`\p{Hangul}`)
)

var koWeekdays = map[string]int{"월": 1, "화": 2, "수": 3, "목": 4, "금": 5, "토": 6, "일": 0}

var enWeekdays = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "wednesday": 3, "thursday": 4, "friday": 5, "saturday": 6,
}

// requestSuffixes are stripped from the end of a title token, longest first.
var requestSuffixes = []string{
	"부탁드립니다", "부탁드려요", "해주세요", "해줄래요", "부탁해요", "해줄래", "해줘요", "부탁해",
	"합시다", "해줘", "하자", "주세요", "해야", "줘요", "줘",
}

// schedulingVerbs are what remains of a token like "잡아줘" once the request
// suffix is gone; they carry no title content.
var schedulingVerbs = map[string]bool{
	"": true, "잡아": true, "잡": true, "만들어": true, "등록": true, "추가": true, "예약": true,
	"공유": true, "알려": true, "보내": true, "넣어": true, "해": true,
}

var dropTokens = map[string]bool{
	"에": true, "에서": true, "까지": true, "부터": true, "좀": true, "혹시": true, "같이": true, "우리": true,
	"잡자": true, "해": true, "돼": true, "할까요": true, "시간": true,
	"please": true, "a": true, "an": true, "the": true, "at": true, "on": true, "with": true, "for": true,
	"to": true, "by": true, "in": true, "and": true, "can": true, "could": true, "would": true, "you": true,
	"let's": true, "lets": true, "me": true, "us": true, "set": true, "up": true, "schedule": true,
	"book": true, "add": true, "create": true, "remind": true, "need": true, "we": true,
}
