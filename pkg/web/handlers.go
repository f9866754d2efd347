package web

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-parley/pkg/dialogue"
	"github.com/teslashibe/go-parley/pkg/turn"
)

const defaultConversationLimit = 50

type participantPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Human bool   `json:"human"`
}

type statusPayload struct {
	Session      string               `json:"session"`
	State        string               `json:"state"`
	Generation   uint64               `json:"generation"`
	Participants []participantPayload `json:"participants"`
	Clients      map[string]int       `json:"clients"`
}

type sentencePayload struct {
	Generation      uint64 `json:"generation"`
	Speaker         string `json:"speaker"`
	SpeakerName     string `json:"speaker_name"`
	Index           int    `json:"index"`
	Text            string `json:"text"`
	NewlineAnchored bool   `json:"newline_anchored,omitempty"`
}

type turnPayload struct {
	Generation  uint64 `json:"generation"`
	Speaker     string `json:"speaker"`
	SpeakerName string `json:"speaker_name"`
	Utterance   string `json:"utterance"`
	Addressee   string `json:"addressee"`
	Listener    string `json:"listener"`
	NextSpeaker string `json:"next_speaker"`
	Reason      string `json:"reason,omitempty"`
	Filter      string `json:"filter,omitempty"`
	Fallback    bool   `json:"fallback,omitempty"`
}

func newTurnPayload(e dialogue.TurnEvent) turnPayload {
	d := e.Decision
	return turnPayload{
		Generation:  e.Generation,
		Speaker:     string(e.Speaker),
		SpeakerName: e.SpeakerName,
		Utterance:   e.Utterance,
		Addressee:   string(d.Addressee),
		Listener:    string(d.Listener),
		NextSpeaker: string(d.NextSpeaker),
		Reason:      d.Reason,
		Filter:      string(d.Filter),
		Fallback:    d.AddresseeFallback || d.NextSpeakerFallback,
	}
}

// SayRequest is the request body for POST /api/say.
type SayRequest struct {
	Text      string `json:"text"`
	Addressee string `json:"addressee"`

	// Interrupt abandons any reply still in flight first.
	Interrupt bool `json:"interrupt"`
}

// handleStatus returns the session state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	r := s.convo.Roster()
	var participants []participantPayload
	for _, id := range r.IDs() {
		participants = append(participants, participantPayload{
			ID:    string(id),
			Name:  r.Name(id),
			Human: id == turn.Human,
		})
	}
	return c.JSON(statusPayload{
		Session:      s.convo.SessionID().String(),
		State:        s.convo.State().String(),
		Generation:   s.convo.Generation(),
		Participants: participants,
		Clients: map[string]int{
			"sentences": s.sentenceHub.ClientCount(),
			"turns":     s.turnHub.ClientCount(),
		},
	})
}

// handleGetConversation returns recent conversation, ?limit=N entries
func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultConversationLimit)
	if limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be positive",
		})
	}
	return c.JSON(s.convo.History().Recent(limit))
}

// handleSay submits a human utterance and waits for the AI turns it triggers.
func (s *Server) handleSay(c *fiber.Ctx) error {
	var req SayRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	var addressee turn.ParticipantID
	if label := strings.TrimSpace(req.Addressee); label != "" {
		id, ok := s.convo.Roster().Resolve(label)
		if !ok && !strings.EqualFold(label, string(turn.All)) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "unknown addressee: " + label,
			})
		}
		if !ok {
			id = turn.All
		}
		addressee = id
	}

	if req.Interrupt {
		s.convo.Interrupt()
	}

	turns, err := s.convo.HumanSaysTo(c.UserContext(), req.Text, addressee)
	payload := make([]turnPayload, 0, len(turns))
	for _, t := range turns {
		payload = append(payload, newTurnPayload(t))
	}

	switch {
	case err == nil:
		return c.JSON(fiber.Map{"turns": payload})
	case errors.Is(err, dialogue.ErrEmptyUtterance):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, dialogue.ErrInterrupted):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error(), "turns": payload})
	default:
		s.logger.Warn("say failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error(), "turns": payload})
	}
}

// handleInterrupt abandons the reply in flight.
func (s *Server) handleInterrupt(c *fiber.Ctx) error {
	s.convo.Interrupt()
	return c.JSON(fiber.Map{"generation": s.convo.Generation()})
}
