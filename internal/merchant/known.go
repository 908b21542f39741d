package merchant

// known maps lower-cased name and domain variants to canonical merchant names.
// It is built once and never mutated.
var known = map[string]string{
	"amazon":       "Amazon",
	"amazon.com":   "Amazon",
	"amzn":         "Amazon",
	"amazon.co.uk": "Amazon UK",
	"amazon.ca":    "Amazon Canada",
	"amazon.de":    "Amazon Germany",
	"amazon.co.jp": "Amazon Japan",

	"apple":       "Apple",
	"apple.com":   "Apple",
	"apple store": "Apple",

	"nike":       "Nike",
	"nike.com":   "Nike",
	"nike store": "Nike",

	"adidas":     "Adidas",
	"adidas.com": "Adidas",

	"target":     "Target",
	"target.com": "Target",

	"walmart":     "Walmart",
	"walmart.com": "Walmart",
	"wal-mart":    "Walmart",

	"best buy":    "Best Buy",
	"bestbuy":     "Best Buy",
	"bestbuy.com": "Best Buy",

	"home depot":     "Home Depot",
	"homedepot":      "Home Depot",
	"homedepot.com":  "Home Depot",
	"the home depot": "Home Depot",

	"lowes":     "Lowe's",
	"lowe's":    "Lowe's",
	"lowes.com": "Lowe's",

	"costco":           "Costco",
	"costco.com":       "Costco",
	"costco wholesale": "Costco",

	"etsy":     "Etsy",
	"etsy.com": "Etsy",

	"ebay":     "eBay",
	"ebay.com": "eBay",

	"nordstrom":     "Nordstrom",
	"nordstrom.com": "Nordstrom",

	"macys":     "Macy's",
	"macy's":    "Macy's",
	"macys.com": "Macy's",

	"sephora":     "Sephora",
	"sephora.com": "Sephora",

	"ulta":        "Ulta Beauty",
	"ulta beauty": "Ulta Beauty",
	"ulta.com":    "Ulta Beauty",

	"zara":     "Zara",
	"zara.com": "Zara",

	"h&m":    "H&M",
	"hm":     "H&M",
	"hm.com": "H&M",

	"uniqlo":     "Uniqlo",
	"uniqlo.com": "Uniqlo",

	"gap":     "Gap",
	"gap.com": "Gap",

	"old navy":    "Old Navy",
	"oldnavy":     "Old Navy",
	"oldnavy.com": "Old Navy",

	"banana republic":    "Banana Republic",
	"bananarepublic":     "Banana Republic",
	"bananarepublic.com": "Banana Republic",

	"rei":     "REI",
	"rei.com": "REI",

	"patagonia":     "Patagonia",
	"patagonia.com": "Patagonia",

	"wayfair":     "Wayfair",
	"wayfair.com": "Wayfair",

	"ikea":     "IKEA",
	"ikea.com": "IKEA",

	"chewy":     "Chewy",
	"chewy.com": "Chewy",

	"petsmart":     "PetSmart",
	"petsmart.com": "PetSmart",

	"newegg":     "Newegg",
	"newegg.com": "Newegg",

	"b&h":              "B&H Photo",
	"b&h photo":        "B&H Photo",
	"bhphoto":          "B&H Photo",
	"bhphotovideo.com": "B&H Photo",
}

// domainSuffixes are checked longest first.
var domainSuffixes = []string{
	".co.uk", ".co.jp", ".store", ".shop", ".com", ".net", ".org",
	".ca", ".de", ".fr", ".jp", ".cn", ".au", ".in", ".io",
}

var domainPrefixes = []string{"www.", "shop.", "store.", "order.", "orders."}

var corporateSuffixes = []string{
	", inc.", ", inc", " inc.", " inc", ", llc", " llc", ", ltd", " ltd", " co.", " co", ", corp", " corp",
}

var acronyms = map[string]bool{
	"rei": true, "ikea": true, "h&m": true, "at&t": true, "dhl": true, "ups": true, "usps": true, "bh": true,
}

// Canonical reports the canonical name for a lower-cased key, if known.
func Canonical(key string) (string, bool) {
	v, ok := known[key]
	return v, ok
}
