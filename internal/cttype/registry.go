// Package cttype связывает slug маршрута ("type4") с каноническим CT-типом.
package cttype

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Spok95/ct-filing/internal/apperr"
	"github.com/Spok95/ct-filing/internal/models"
)

// Tier: какой из уровней сопоставления сработал.
type Tier string

const (
	TierExact   Tier = "exact"
	TierPattern Tier = "pattern"
)

// matcher строит предикат для номера один раз на вызов ResolveMatch.
type matcher struct {
	tier    Tier
	compile func(n string) func(name string) bool
}

// Порядок важен: сначала точное каноническое имя, потом переименованные оператором типы.
var matchers = []matcher{
	{tier: TierExact, compile: exactName},
	{tier: TierPattern, compile: patternName},
}

var suffixRe = regexp.MustCompile(`(\d+)$`)

// CanonicalName: имя, под которым тип заводится в справочнике.
func CanonicalName(n string) string { return "CT Type " + n }

// Number извлекает числовой суффикс slug'а: "type4" → "4".
func Number(slug string) (string, bool) {
	m := suffixRe.FindStringSubmatch(strings.TrimSpace(slug))
	if m == nil {
		return "", false
	}
	return trimZeros(m[1]), true
}

// "type04" и "type4": один и тот же тип.
func trimZeros(n string) string {
	n = strings.TrimLeft(n, "0")
	if n == "" {
		return "0"
	}
	return n
}

func exactName(n string) func(name string) bool {
	want := CanonicalName(n)
	return func(name string) bool {
		return strings.EqualFold(strings.TrimSpace(name), want)
	}
}

func patternName(n string) func(name string) bool {
	re := regexp.MustCompile(fmt.Sprintf(`(?i)\btype\s*%s\b`, regexp.QuoteMeta(n)))
	return re.MatchString
}

// Resolve возвращает CT-тип для slug'а или NotFoundError.
func Resolve(types []models.CtType, slug string) (models.CtType, error) {
	t, _, err := ResolveMatch(types, slug)
	return t, err
}

// ResolveMatch: то же, что Resolve, но сообщает уровень совпадения.
func ResolveMatch(types []models.CtType, slug string) (models.CtType, Tier, error) {
	n, ok := Number(slug)
	if !ok {
		return models.CtType{}, "", apperr.NotFound("ct type slug %q has no numeric suffix", slug)
	}
	for _, m := range matchers {
		match := m.compile(n)
		for _, t := range types {
			if match(t.Name) {
				return t, m.tier, nil
			}
		}
	}
	return models.CtType{}, "", apperr.NotFound("ct type for slug %q", slug)
}

// Slug строит slug для ссылок; номер ищется тем же паттерном.
func Slug(t models.CtType) (string, bool) {
	m := slugNameRe.FindStringSubmatch(t.Name)
	if m == nil {
		return "", false
	}
	return "type" + trimZeros(m[1]), true
}

var slugNameRe = regexp.MustCompile(`(?i)\btype\s*(\d+)\b`)
