// Package extractor turns raw counter-party messages into offer records and
// question classifications. Everything here is pure and safe to call from any
// goroutine.
package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"autograb/internal/domain"
)

const orderLabel = "Номер заказа:"

var (
	reBlockSplit = regexp.MustCompile(`(?i)\n\s*Номер заказа:`)
	reOrderID    = regexp.MustCompile(`(?i)Номер заказа:\s*(\d+)`)
	reQuantity   = regexp.MustCompile(`(?i)Всего тонн:\s*([\d.,]+)`)
	reUnitPrice  = regexp.MustCompile(`(?i)Максимальная цена за тонну:\s*([\d.,]+)`)

	reNoOffers  = regexp.MustCompile(`(?i)нет\s+предложен`)
	reCompeting = regexp.MustCompile(`(?i)есть\s+предл`)

	reQuantityQuestion = regexp.MustCompile(`(?i)сколько\s+тонн|сколько\s+т\.|можете\s+взять`)
	rePriceQuestion    = regexp.MustCompile(`(?i)цен[ау]|назовите\s+.*цен|напишите\s+свою\s+цен|укажите\s+.*цен|ваш[ау]\s+цен|какая\s+цен|сколько\s+хотите|сколько\s+возьм[её]те`)
)

// ParseOffer extracts an offer from one announcement block. The second result
// is false when either required field is missing or malformed; that is the
// normal "not an offer" outcome.
func ParseOffer(block string) (domain.OfferRecord, bool) {
	qm := reQuantity.FindStringSubmatch(block)
	pm := reUnitPrice.FindStringSubmatch(block)
	if qm == nil || pm == nil {
		return domain.OfferRecord{}, false
	}
	quantity, ok := parseDecimal(qm[1])
	if !ok {
		return domain.OfferRecord{}, false
	}
	price, ok := parseDecimal(pm[1])
	if !ok {
		return domain.OfferRecord{}, false
	}
	var id string
	if m := reOrderID.FindStringSubmatch(block); m != nil {
		id = m[1]
	}
	return domain.OfferRecord{ID: id, Quantity: quantity, UnitPrice: price}, true
}

// parseDecimal accepts either a comma or a dot as the decimal separator.
func parseDecimal(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ClassifyQuestion reports which follow-up question text asks. Quantity takes
// priority when both pattern sets match. Order lists quote the price label and
// are never questions.
func ClassifyQuestion(text string) domain.QuestionKind {
	switch {
	case IsOfferList(text):
		return domain.QuestionNone
	case reQuantityQuestion.MatchString(text):
		return domain.QuestionQuantity
	case rePriceQuestion.MatchString(text):
		return domain.QuestionPrice
	default:
		return domain.QuestionNone
	}
}

// HasCompetingOffer reports whether a block says someone already offered.
func HasCompetingOffer(block string) bool {
	return reCompeting.MatchString(block)
}

// HasNoOffersMarker reports whether a block says there are no offers yet.
func HasNoOffersMarker(block string) bool {
	return reNoOffers.MatchString(block)
}

// IsNewOfferNotification reports whether text announces that the order list
// changed (new order placed or an order cancelled).
func IsNewOfferNotification(text string) bool {
	lower := strings.ToLower(text)
	placed := strings.Contains(lower, "размещен новый заказ") && strings.Contains(lower, "смотрите список заказов")
	cancelled := strings.Contains(lower, "отменено") && strings.Contains(lower, "заказ в статусе")
	return placed || cancelled
}

// IsOfferList reports whether text is an order-list payload.
func IsOfferList(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "номер заказа") && strings.Contains(lower, "всего тонн")
}

// SplitBlocks splits an order list into one block per order. Each block starts
// with the order label; a leading header without one is dropped.
func SplitBlocks(text string) []string {
	parts := reBlockSplit.Split(text, -1)
	blocks := make([]string, 0, len(parts))
	for i, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		if i == 0 {
			if !strings.Contains(strings.ToLower(part), strings.ToLower(orderLabel)) {
				continue
			}
			blocks = append(blocks, strings.TrimSpace(part))
			continue
		}
		blocks = append(blocks, orderLabel+part)
	}
	return blocks
}

// AcceptRefs returns the refs of affordances whose label contains label,
// compared case-insensitively, in message order.
func AcceptRefs(affordances []domain.Affordance, label string) []string {
	needle := strings.ToLower(strings.TrimSpace(label))
	if needle == "" {
		return nil
	}
	var refs []string
	for _, a := range affordances {
		if strings.Contains(strings.ToLower(a.Label), needle) {
			refs = append(refs, a.Ref)
		}
	}
	return refs
}
