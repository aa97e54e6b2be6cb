package position

import "github.com/GriffinCanCode/pagestitch/internal/driver"

// SurfaceCache holds values derived from one scrollable view. They are
// expensive to query on a device, so they are kept until the tracked view
// changes identity.
type SurfaceCache struct {
	surface       driver.ElementID
	firstChild    driver.ElementID
	scrollGap     int
	scrollGapSet  bool
	distanceRatio float64
}

// Track records the view currently in use and drops everything derived from
// a previous one. It reports whether the cache was invalidated.
func (c *SurfaceCache) Track(view driver.ElementID) bool {
	if view == c.surface {
		return false
	}
	*c = SurfaceCache{surface: view}
	return true
}

// Reset drops all derived values but keeps tracking the same view.
func (c *SurfaceCache) Reset() {
	*c = SurfaceCache{surface: c.surface}
}

// FirstChild returns the cached first visible child of the view.
func (c *SurfaceCache) FirstChild() (driver.ElementID, bool) {
	return c.firstChild, c.firstChild != ""
}

func (c *SurfaceCache) setFirstChild(id driver.ElementID) { c.firstChild = id }

// ScrollGap returns the vertical distance between the view's top and its
// first child, measured once per view.
func (c *SurfaceCache) ScrollGap() (int, bool) { return c.scrollGap, c.scrollGapSet }

func (c *SurfaceCache) setScrollGap(gap int) {
	c.scrollGap = gap
	c.scrollGapSet = true
}

// DistanceRatio returns the cached swipe distance ratio, 0 when unknown.
func (c *SurfaceCache) DistanceRatio() float64 { return c.distanceRatio }

func (c *SurfaceCache) setDistanceRatio(r float64) { c.distanceRatio = r }
