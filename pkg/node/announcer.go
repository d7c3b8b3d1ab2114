package node

import (
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/lightnode.go/pkg/framework"
)

// Announcement schedule (RFC 6762 8.3).
const (
	DefaultAnnouncements        = 3
	DefaultAnnouncementInterval = time.Second
)

// Announcer is implemented by mdns.Responder.
type Announcer interface {
	SendAnnouncement(ttl uint32) error
}

// AnnounceController sends unsolicited announcements from the loop,
// doubling the interval after each one.
type AnnounceController struct {
	Announcer Announcer
	TTL       uint32
	Count     int
	Interval  time.Duration

	remaining int
	next      time.Time
	interval  time.Duration
}

// NewAnnounceController creates an AnnounceController which starts
// announcing on the first iteration.
func NewAnnounceController(a Announcer, ttl uint32) *AnnounceController {
	c := &AnnounceController{
		Announcer: a,
		TTL:       ttl,
		Count:     DefaultAnnouncements,
		Interval:  DefaultAnnouncementInterval,
	}
	c.Restart()
	return c
}

// Restart schedules a new series of announcements.
func (c *AnnounceController) Restart() {
	c.remaining = c.Count
	c.next = time.Time{}
	c.interval = c.Interval
}

// Pending returns the number of announcements still to be sent.
func (c *AnnounceController) Pending() int {
	return c.remaining
}

// Control implements fx.Controller.
func (c *AnnounceController) Control(cc fx.ControlContext) error {
	now := cc.Time()
	if c.remaining <= 0 || now.Before(c.next) {
		return nil
	}
	c.remaining--
	c.next = now.Add(c.interval)
	c.interval *= 2
	if err := c.Announcer.SendAnnouncement(c.TTL); err != nil {
		glog.Warningf("mdns: announce: %v", err)
	}
	return nil
}

// AddToLoop implements fx.LoopAdder.
func (c *AnnounceController) AddToLoop(loop *fx.Loop) {
	loop.AddController(fx.PrLvDiscovery, c)
}
