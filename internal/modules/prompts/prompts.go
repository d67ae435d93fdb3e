package prompts

import (
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/drfeelgood/core/internal/pkg/response"
	"github.com/gin-gonic/gin"
)

var homework = []string{
	"Write down three things that went well today and why they happened.",
	"Take a ten-minute walk without your phone and note how you feel afterwards.",
	"Notice one anxious thought this week and write a kinder, more balanced version of it.",
	"Message someone you have not spoken to in a while.",
	"Before bed, list one thing you are looking forward to tomorrow.",
	"Try five minutes of slow breathing: in for four, hold for four, out for six.",
	"Plan one small, enjoyable activity and put it in your calendar.",
}

var farewells = []string{"bye", "goodbye", "talk soon", "see you", "good night", "farewell", "take care"}

const reflection = "Before you go, take a moment: what is one thing from today's conversation you want to carry with you, and one small step you will try before we talk again?"

// Provider serves the scripted homework and reflection content.
type Provider struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns a Provider drawing from src, or from the global generator when src is nil.
func New(src rand.Source) *Provider {
	p := &Provider{}
	if src != nil {
		p.rnd = rand.New(src)
	}
	return p
}

// Homework returns one prompt chosen uniformly from the fixed list.
func (p *Provider) Homework() string {
	if p.rnd == nil {
		return homework[rand.IntN(len(homework))]
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return homework[p.rnd.IntN(len(homework))]
}

// Reflection returns the closing reflection when text contains a farewell.
func (p *Provider) Reflection(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range farewells {
		if strings.Contains(lower, kw) {
			return reflection, true
		}
	}
	return "", false
}

type reflectionDTO struct {
	Text string `json:"text"`
}

type Handler struct{ p *Provider }

func NewHandler(p *Provider) *Handler { return &Handler{p: p} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/homework", h.homework)
	rg.POST("/reflection", h.reflection)
}

func (h *Handler) homework(c *gin.Context) {
	response.OK(c, gin.H{"homework": h.p.Homework()})
}

func (h *Handler) reflection(c *gin.Context) {
	var dto reflectionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	text, ok := h.p.Reflection(dto.Text)
	if !ok {
		response.OK(c, gin.H{"reflection": nil})
		return
	}
	response.OK(c, gin.H{"reflection": text})
}
