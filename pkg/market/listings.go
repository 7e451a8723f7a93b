package market

import (
	"fmt"

	"github.com/daviddao/cndq/pkg/model"
	"github.com/daviddao/cndq/pkg/reducer"
	"github.com/daviddao/cndq/pkg/store"
)

// Listings is the set of open listings folded from the marketplace index.
type Listings struct {
	Offers    []model.Offer    `json:"offers"`
	BuyOrders []model.BuyOrder `json:"buyOrders"`
	Ads       []model.Ad       `json:"ads"`
	// Pos is the index position the fold stopped at.
	Pos int64 `json:"pos"`
}

// ReadListings folds the whole marketplace index into the open listings.
// It reads no actor logs, so it stays cheap however many actors exist.
func ReadListings(l store.Log) (Listings, error) {
	entries, err := l.Index(0, 0)
	if err != nil {
		return Listings{}, fmt.Errorf("%w: read index: %w", model.ErrStorage, err)
	}
	offers := make(map[string]*model.Offer)
	orders := make(map[string]*model.BuyOrder)
	ads := make(map[string]*model.Ad)
	var offerOrder, orderOrder, adOrder []string

	var out Listings
	for _, ie := range entries {
		out.Pos = ie.Pos
		e := ie.Event
		switch e.Kind {
		case model.EventAddOffer:
			var p model.AddOfferPayload
			if e.Decode(&p) != nil {
				continue
			}
			o := p.Offer
			o.CreatedAt, o.OwnerID, o.OwnerName = e.Seq, e.ActorID, e.ActorName
			if o.Status == "" {
				o.Status = model.StatusActive
			}
			offers[o.ID] = &o
			offerOrder = append(offerOrder, o.ID)
		case model.EventUpdateOffer:
			var p model.UpdateOfferPayload
			if e.Decode(&p) != nil {
				continue
			}
			if o, ok := offers[p.ID]; ok && o.OwnerID == e.ActorID {
				if p.Quantity != nil {
					o.Quantity = reducer.Round(*p.Quantity)
				}
				if p.Price != nil {
					o.MinPrice = *p.Price
				}
				if p.Status != nil {
					o.Status = *p.Status
				}
				o.UpdatedAt = e.Seq
			}
		case model.EventRemoveOffer:
			var p model.RemoveOfferPayload
			if e.Decode(&p) == nil {
				if o, ok := offers[p.ID]; ok && o.OwnerID == e.ActorID {
					o.Status = model.StatusRemoved
				}
			}
		case model.EventAddBuyOrder:
			var p model.AddBuyOrderPayload
			if e.Decode(&p) != nil {
				continue
			}
			o := p.BuyOrder
			o.CreatedAt, o.OwnerID, o.OwnerName = e.Seq, e.ActorID, e.ActorName
			if o.Status == "" {
				o.Status = model.StatusActive
			}
			orders[o.ID] = &o
			orderOrder = append(orderOrder, o.ID)
		case model.EventUpdateBuyOrder:
			var p model.UpdateBuyOrderPayload
			if e.Decode(&p) != nil {
				continue
			}
			if o, ok := orders[p.ID]; ok && o.OwnerID == e.ActorID {
				if p.Quantity != nil {
					o.Quantity = reducer.Round(*p.Quantity)
				}
				if p.Price != nil {
					o.MaxPrice = *p.Price
				}
				if p.Status != nil {
					o.Status = *p.Status
				}
				o.UpdatedAt = e.Seq
			}
		case model.EventRemoveBuyOrder:
			var p model.RemoveBuyOrderPayload
			if e.Decode(&p) == nil {
				if o, ok := orders[p.ID]; ok && o.OwnerID == e.ActorID {
					o.Status = model.StatusRemoved
				}
			}
		case model.EventAddAd:
			var p model.AddAdPayload
			if e.Decode(&p) != nil {
				continue
			}
			ad := p.Ad
			ad.CreatedAt, ad.OwnerID, ad.OwnerName = e.Seq, e.ActorID, e.ActorName
			ads[ad.ID] = &ad
			adOrder = append(adOrder, ad.ID)
		case model.EventRemoveAd:
			var p model.RemoveAdPayload
			if e.Decode(&p) == nil {
				if ad, ok := ads[p.ID]; ok && ad.OwnerID == e.ActorID {
					delete(ads, p.ID)
				}
			}
		}
	}

	out.Offers = []model.Offer{}
	for _, id := range offerOrder {
		if o, ok := offers[id]; ok && o.Status == model.StatusActive {
			out.Offers = append(out.Offers, *o)
		}
	}
	out.BuyOrders = []model.BuyOrder{}
	for _, id := range orderOrder {
		if o, ok := orders[id]; ok && o.Status == model.StatusActive {
			out.BuyOrders = append(out.BuyOrders, *o)
		}
	}
	out.Ads = []model.Ad{}
	for _, id := range adOrder {
		if ad, ok := ads[id]; ok {
			out.Ads = append(out.Ads, *ad)
		}
	}
	sortListings(out.Offers, out.BuyOrders)
	return out, nil
}
