package metrics

// Label tuples used as map keys in a Diff.
type TicketLabels struct {
	EventID   string
	EventName string
	Title     string
}

type ChannelLabels struct {
	EventID   string
	EventName string
	Channel   string
}

type EventLabels struct {
	EventID   string
	EventName string
}

// Diff accumulates one poll cycle's counter increments. It is built by
// the collector from reconciliation output only; raw fetch totals never
// touch it, which is what keeps replays from double counting.
type Diff struct {
	Sold      map[TicketLabels]int
	Revenue   map[TicketLabels]float64
	ByChannel map[ChannelLabels]int
	Refunded  map[TicketLabels]int
	Scanned   map[EventLabels]int
}

func NewDiff() *Diff {
	return &Diff{
		Sold:      make(map[TicketLabels]int),
		Revenue:   make(map[TicketLabels]float64),
		ByChannel: make(map[ChannelLabels]int),
		Refunded:  make(map[TicketLabels]int),
		Scanned:   make(map[EventLabels]int),
	}
}

// AddSold records one newly sold ticket: the sold counter, its revenue
// and its sales channel move together.
func (d *Diff) AddSold(labels TicketLabels, channel ChannelLabels, price float64) {
	d.Sold[labels]++
	d.Revenue[labels] += price
	d.ByChannel[channel]++
}

func (d *Diff) AddRevenue(labels TicketLabels, amount float64) {
	d.Revenue[labels] += amount
}

func (d *Diff) AddRefund(labels TicketLabels) {
	d.Refunded[labels]++
}

func (d *Diff) AddScan(labels EventLabels) {
	d.Scanned[labels]++
}

// Empty reports whether the diff carries no increments at all.
func (d *Diff) Empty() bool {
	return len(d.Sold) == 0 && len(d.Revenue) == 0 && len(d.ByChannel) == 0 &&
		len(d.Refunded) == 0 && len(d.Scanned) == 0
}
