package sim

import (
	"slices"
	"time"

	"croft/pkg/game"
)

type seedDef struct {
	ID         int64
	Name       string
	Level      int
	Price      int64
	Grow       time.Duration
	Exp        int64
	FruitID    int64
	FruitPrice int64
	Yield      int64
}

// catalog is the simulated shop, cheapest first.
var catalog = []seedDef{ //nolint:gochecknoglobals // static game data
	{ID: 20001, Name: "Turnip", Level: 1, Price: 10, Grow: 1 * time.Minute, Exp: 2, FruitID: 40001, FruitPrice: 4, Yield: 5},
	{ID: 20002, Name: "Carrot", Level: 2, Price: 20, Grow: 2 * time.Minute, Exp: 4, FruitID: 40002, FruitPrice: 7, Yield: 6},
	{ID: 20003, Name: "Corn", Level: 4, Price: 45, Grow: 5 * time.Minute, Exp: 9, FruitID: 40003, FruitPrice: 12, Yield: 8},
	{ID: 20004, Name: "Tomato", Level: 6, Price: 80, Grow: 10 * time.Minute, Exp: 16, FruitID: 40004, FruitPrice: 20, Yield: 8},
	{ID: 20005, Name: "Strawberry", Level: 9, Price: 150, Grow: 20 * time.Minute, Exp: 30, FruitID: 40005, FruitPrice: 35, Yield: 9},
	{ID: 20006, Name: "Pumpkin", Level: 12, Price: 260, Grow: 40 * time.Minute, Exp: 55, FruitID: 40006, FruitPrice: 60, Yield: 10},
}

func seedByID(id int64) (seedDef, bool) {
	for _, s := range catalog {
		if s.ID == id {
			return s, true
		}
	}
	return seedDef{}, false
}

func seedByFruit(fruitID int64) (seedDef, bool) {
	for _, s := range catalog {
		if s.FruitID == fruitID {
			return s, true
		}
	}
	return seedDef{}, false
}

func (d seedDef) expPerHour() float64 { return float64(d.Exp) / d.Grow.Hours() }

// Fertilizer shortens growth by a quarter, so exp per hour scales by 4/3.
func (d seedDef) fertExpPerHour() float64 { return d.expPerHour() * 4 / 3 }

func (d seedDef) profitPerHour() float64 {
	return float64(d.FruitPrice*d.Yield-d.Price) / d.Grow.Hours()
}

func rankings(by game.RankBy) []game.PlantRank {
	out := make([]game.PlantRank, 0, len(catalog))
	for _, d := range catalog {
		out = append(out, game.PlantRank{
			SeedID:         d.ID,
			Name:           d.Name,
			Level:          d.Level,
			ExpPerHour:     d.expPerHour(),
			FertExpPerHour: d.fertExpPerHour(),
			ProfitPerHour:  d.profitPerHour(),
		})
	}
	key := func(r game.PlantRank) float64 {
		switch by {
		case game.RankByFertExp:
			return r.FertExpPerHour
		case game.RankByProfit:
			return r.ProfitPerHour
		case game.RankByLevel:
			return float64(r.Level)
		default:
			return r.ExpPerHour
		}
	}
	slices.SortStableFunc(out, func(a, b game.PlantRank) int {
		switch ka, kb := key(a), key(b); {
		case ka > kb:
			return -1
		case ka < kb:
			return 1
		default:
			return 0
		}
	})
	return out
}

// expToNext is the experience needed to leave level.
func expToNext(level int) int64 { return int64(100 * level) }

// levelFor converts total experience into a level and the progress inside it.
func levelFor(total int64) (int, int64, int64) {
	level := 1
	for total >= expToNext(level) {
		total -= expToNext(level)
		level++
	}
	return level, total, expToNext(level)
}
