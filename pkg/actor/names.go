package actor

import (
	"crypto/md5"
	"encoding/binary"
)

var adjectives = [...]string{
	"Swift", "Bold", "Clever", "Mighty", "Brave", "Quick", "Silent", "Wise",
	"Fierce", "Noble", "Rapid", "Sharp", "Bright", "Keen", "Agile", "Strong",
	"Steady", "Calm", "Daring", "Expert", "Focused", "Gifted", "Hardy", "Loyal",
	"Alert", "Astute", "Crafty", "Driven", "Epic", "Fair", "Grand", "Iron",
	"Lucky", "Nimble", "Proud", "Royal", "Solid", "True", "Vital", "Wild",
	"Ace", "Cool", "Elite", "Prime", "Slick", "Smooth", "Snappy", "Stellar",
}

var animals = [...]string{
	"Penguin", "Tiger", "Fox", "Eagle", "Wolf", "Bear", "Falcon", "Hawk",
	"Lion", "Panther", "Raven", "Shark", "Dragon", "Phoenix", "Cobra", "Lynx",
	"Otter", "Panda", "Raccoon", "Badger", "Beaver", "Cheetah", "Cougar", "Jaguar",
	"Leopard", "Mongoose", "Wolverine", "Dolphin", "Owl", "Sparrow", "Viper", "Python",
	"Gecko", "Koala", "Lemur", "Meerkat", "Narwhal", "Octopus", "Platypus", "Quokka",
	"Rhino", "Seal", "Tortoise", "Unicorn", "Walrus", "Yak", "Zebra", "Alpaca",
}

// DisplayName derives a stable "Adjective Animal" name from an actor id.
func DisplayName(id string) string {
	sum := md5.Sum([]byte(id))
	a := binary.BigEndian.Uint32(sum[0:4])
	b := binary.BigEndian.Uint32(sum[4:8])
	return adjectives[a%uint32(len(adjectives))] + " " + animals[b%uint32(len(animals))]
}
