package goble

import (
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/go-ble/ble"
)

// convertAdvertisement copies what the core needs out of a go-ble
// advertisement. The peripheral address becomes its ID.
func convertAdvertisement(a ble.Advertisement) transport.Advertisement {
	adv := transport.Advertisement{
		Name:        a.LocalName(),
		RSSI:        a.RSSI(),
		Connectable: a.Connectable(),
	}
	if addr := a.Addr(); addr != nil {
		adv.ID = transport.ID(addr.String())
	}
	if md := a.ManufacturerData(); len(md) > 0 {
		adv.ManufacturerData = append([]byte(nil), md...)
	}

	svcs := a.Services()
	overflow := a.OverflowService()
	if n := len(svcs) + len(overflow); n > 0 {
		adv.Services = make([]transport.UUID, 0, n)
		for _, u := range svcs {
			adv.Services = append(adv.Services, transport.NormalizeUUID(u.String()))
		}
		for _, u := range overflow {
			adv.Services = append(adv.Services, transport.NormalizeUUID(u.String()))
		}
	}
	return adv
}

// serviceFilter matches advertisements listing at least one wanted service.
type serviceFilter map[transport.UUID]struct{}

func newServiceFilter(services []transport.UUID) serviceFilter {
	f := make(serviceFilter, len(services))
	for _, u := range services {
		f[transport.NormalizeUUID(string(u))] = struct{}{}
	}
	return f
}

func (f serviceFilter) matches(advertised []transport.UUID) bool {
	if len(f) == 0 {
		return true
	}
	for _, u := range advertised {
		if _, ok := f[u]; ok {
			return true
		}
	}
	return false
}
