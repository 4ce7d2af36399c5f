package archive

import (
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
)

func pgnResult(r Result) string {
	switch r.Outcome() {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	default:
		return "1/2-1/2"
	}
}

// SANMoves replays the coordinate moves from the standard start. The second
// return is false when a move does not decode, in which case the raw moves are
// returned unchanged. Legality is not enforced anywhere else, so this is common.
func SANMoves(moves []string) ([]string, bool) {
	game := nchess.NewGame()
	out := make([]string, 0, len(moves))
	for _, raw := range moves {
		uci := strings.ToLower(strings.TrimSpace(raw))
		pos := game.Position()
		mv, err := nchess.UCINotation{}.Decode(pos, uci)
		if err != nil {
			return append([]string{}, moves...), false
		}
		if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
			return append([]string{}, moves...), false
		}
		out = append(out, nchess.AlgebraicNotation{}.Encode(pos, mv))
	}
	return out, true
}

// BuildPGN renders r as PGN text. Moves that cannot be replayed are written
// as given.
func BuildPGN(r Result) string {
	var b strings.Builder
	date := r.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	result := pgnResult(r)
	b.WriteString("[Event \"Cheese Relay\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"room %s\"]\n", sanitizePGN(r.RoomCode)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", pgnName(r.WhiteID)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", pgnName(r.BlackID)))
	if strings.TrimSpace(r.Reason) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(r.Reason))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	moves, _ := SANMoves(r.Moves)
	for i := 0; i < len(moves); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(moves[i])))
		if i+1 < len(moves) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(moves[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

// pgnName is "?" for an unknown player, as the PGN tag rules require.
func pgnName(id string) string {
	if name := sanitizePGN(id); name != "" {
		return name
	}
	return "?"
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
