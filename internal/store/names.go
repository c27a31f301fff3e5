package store

import (
	"fmt"
	"math/rand"
)

var nameAdjectives = []string{
	"abundant", "able", "agreeable", "amazing", "amusing", "big", "bald",
	"bold", "brawny", "bright", "burly", "calm", "capable", "carefree",
	"charming", "clean", "clumsy", "colorful", "dapper", "dashing",
	"defiant", "delicate", "enchanting", "entertaining", "fearless",
	"flawless", "fortunate", "fun", "gaudy", "gentle", "glamorous",
	"grandiose", "gregarious", "handsome", "hilarious", "honorable",
	"illustrious", "incongruous", "indecisive", "industrious", "intelligent",
	"inquisitive", "intrigued", "invincible", "judicious", "kindly",
	"languid", "learned", "legendary", "likeable", "loud", "luminous",
	"luxuriant", "magnificent", "masked", "melodic", "merciful",
	"mercurial", "monumental", "mysterious", "nebulous", "nimble",
	"nosy", "omniscient", "orderly", "overjoyed", "peaceful", "painted",
	"persistent", "placid", "polite", "popular", "powerful", "puzzled",
	"rambunctious", "rare", "rebellious", "respected", "resilient",
	"righteous", "receptive", "redolent", "rumbling", "salty", "sassy",
	"secretive", "selective", "sedate", "serious", "shivering", "skillful",
	"sincere", "skittish", "silent", "smiling", "sneaky", "stately",
	"suave", "stylish", "tasteful", "thoughtful", "thundering", "traveling",
	"treasured", "trusting", "unequaled", "upset", "unique", "unleashed",
	"useful", "upbeat", "unruly", "valuable", "vaunted", "victorious",
	"welcoming", "whimsical", "wistful", "wise", "worried", "youthful",
	"zealous",
}

var nameNouns = []string{
	"ant", "ape", "asp", "auk", "bass", "bat", "bear", "bee", "bird",
	"boar", "bug", "calf", "carp", "cat", "chimp", "cod", "colt", "conch",
	"cow", "crab", "crane", "croc", "crow", "cub", "deer", "doe", "dog",
	"dolphin", "donkey", "dove", "duck", "eel", "elk", "fawn", "finch",
	"fish", "flea", "fly", "foal", "fowl", "fox", "frog", "gnat", "gnu",
	"goat", "goose", "grouse", "grub", "gull", "hare", "hawk", "hen",
	"hog", "horse", "hound", "jay", "kit", "kite", "koi", "lamb", "lark",
	"loon", "lynx", "mare", "midge", "mink", "mole", "moose", "moth",
	"mouse", "mule", "newt", "owl", "ox", "panda", "penguin", "perch",
	"pig", "pug", "quail", "ram", "rat", "ray", "robin", "roo", "rook",
	"seal", "shad", "shark", "sheep", "shoat", "shrew", "shrike", "shrimp",
	"skink", "skunk", "sloth", "slug", "smelt", "snail", "snake", "snipe",
	"sow", "sponge", "squid", "squirrel", "stag", "steed", "stoat",
	"stork", "swan", "tern", "toad", "trout", "turtle", "vole", "wasp",
	"whale", "wolf", "worm", "wren", "yak", "zebra",
}

// randomRunName builds a memorable default name like "dapper-owl-317".
func randomRunName() string {
	adjective := nameAdjectives[rand.Intn(len(nameAdjectives))]
	noun := nameNouns[rand.Intn(len(nameNouns))]
	return fmt.Sprintf("%s-%s-%d", adjective, noun, rand.Intn(1000))
}
