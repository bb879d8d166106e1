// Package periodcalc выводит даты следующего отчётного периода.
//
// Вся арифметика календарная: год и месяцы прибавляются к номеру месяца,
// а день, не существующий в целевом месяце, прижимается к последнему дню
// (31.12 + 9 месяцев = 30.09, 29.02 + 1 год = 28.02). Пакет не делает I/O
// и ничего не сохраняет: результат лишь предложение, которое вызывающий может поправить.
package periodcalc

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/Spok95/ct-filing/internal/apperr"
)

// DueMonths: срок подачи после окончания периода.
const DueMonths = 9

// Proposal: предложенные даты периода.
type Proposal struct {
	PeriodFrom civil.Date `json:"period_from"`
	PeriodTo   civil.Date `json:"period_to"`
	DueDate    civil.Date `json:"due_date"`
}

// ComputeFirst: первый период клиента от якорной даты.
func ComputeFirst(anchor civil.Date) Proposal {
	return fromStart(anchor)
}

// ComputeFirstFromString: то же, но якорь в том виде, как он хранится у клиента.
func ComputeFirstFromString(anchor string) (Proposal, error) {
	d, err := Normalize(anchor)
	if err != nil {
		return Proposal{}, err
	}
	return ComputeFirst(d), nil
}

// ComputeNext: период, начинающийся на следующий день после prevEnd.
func ComputeNext(prevEnd civil.Date) Proposal {
	return fromStart(prevEnd.AddDays(1))
}

func fromStart(from civil.Date) Proposal {
	to := AddYears(from, 1).AddDays(-1)
	return Proposal{
		PeriodFrom: from,
		PeriodTo:   to,
		DueDate:    AddMonths(to, DueMonths),
	}
}

// AddYears прибавляет n календарных лет с прижатием дня (29.02 → 28.02).
func AddYears(d civil.Date, n int) civil.Date {
	return AddMonths(d, 12*n)
}

// AddMonths прибавляет n календарных месяцев с прижатием дня к концу месяца.
func AddMonths(d civil.Date, n int) civil.Date {
	total := d.Year*12 + int(d.Month) - 1 + n
	y, m := total/12, time.Month(total%12+1)
	day := d.Day
	if last := DaysIn(y, m); day > last {
		day = last
	}
	return civil.Date{Year: y, Month: m, Day: day}
}

// DaysIn: число дней в месяце с учётом високосных лет.
func DaysIn(year int, m time.Month) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

var (
	slashDateRe = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	isoDateRe   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// Normalize принимает "yyyy-mm-dd" или "dd/mm/yyyy" и возвращает дату.
func Normalize(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return civil.Date{}, apperr.Validation("date is empty")
	case isoDateRe.MatchString(s):
		d, err := civil.ParseDate(s)
		if err != nil || !d.IsValid() {
			return civil.Date{}, apperr.Validation("invalid date %q", s)
		}
		return d, nil
	case slashDateRe.MatchString(s):
		m := slashDateRe.FindStringSubmatch(s)
		day, _ := strconv.Atoi(m[1])
		mon, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		d := civil.Date{Year: year, Month: time.Month(mon), Day: day}
		if !d.IsValid() {
			return civil.Date{}, apperr.Validation("invalid date %q", s)
		}
		return d, nil
	default:
		return civil.Date{}, apperr.Validation("unsupported date format %q, want yyyy-mm-dd or dd/mm/yyyy", s)
	}
}
