package simulate

import "time"

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Runner configuration constants.
const (
	DefaultSettle        = 5 * time.Second
	PercentageMultiplier = 100
	progressInterval     = time.Second
)

// KPI ids of the default catalog exercised by the generator.
const (
	kpiConversations = "conversations"
	kpiAppointments  = "appointments"
	kpiListings      = "listings"
	kpiOffers        = "offers"
	kpiPending       = "pending"
	kpiClosed        = "closed"
	kpiDials         = "dials"
	kpiOpenHouse     = "open_house"
)
