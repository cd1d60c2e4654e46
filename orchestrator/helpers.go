package orchestrator

import (
	"math"
	"sort"
	"strings"

	"github.com/maastricht-university/viva-pipeline/clients"
	"github.com/maastricht-university/viva-pipeline/scoring"
)

// delivery measures speaking rate and pause ratio from transcript segment
// timings. Overlapping segments count once. Returns nil without timings.
func delivery(segs []clients.TransSeg) *scoring.Delivery {
	type edge struct {
		t     float64
		delta int
	}
	var (
		edges []edge
		words int
	)
	for _, s := range segs {
		words += len(strings.Fields(s.Text))
		if s.End > s.Start {
			edges = append(edges, edge{t: s.Start, delta: +1}, edge{t: s.End, delta: -1})
		}
	}
	if len(edges) == 0 || words == 0 {
		return nil
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].t < edges[j].t })

	active := 0
	last := edges[0].t
	voiced := 0.0
	for _, e := range edges {
		if active > 0 {
			voiced += e.t - last
		}
		active += e.delta
		last = e.t
	}
	span := edges[len(edges)-1].t - edges[0].t
	if voiced <= 0 || span <= 0 {
		return nil
	}
	return &scoring.Delivery{
		SpeakingRate: math.Round(float64(words) / (voiced / 60)),
		PauseRatio:   math.Round((span-voiced)/span*100) / 100,
	}
}

func turnInput(t Turn) scoring.TurnInput {
	return scoring.TurnInput{
		Question:         t.Question,
		Response:         t.Response,
		ExpectedConcepts: t.ExpectedConcepts,
		Delivery:         t.Delivery,
		Score:            t.Score,
	}
}
