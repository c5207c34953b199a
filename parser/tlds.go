package parser

// topLevelDomains are the domain suffixes recognized by FindLinks
var topLevelDomains = []string{
	// generic
	"aaa", "academy", "agency", "app", "art", "asia", "audio", "auto", "bank", "bar", "beer", "best",
	"bet", "bid", "bike", "bio", "biz", "black", "blog", "blue", "book", "boutique", "build", "business",
	"buzz", "cafe", "cam", "camp", "capital", "car", "cards", "care", "career", "careers", "casa", "cash",
	"casino", "cat", "center", "chat", "cheap", "city", "claims", "click", "clinic", "clothing", "cloud",
	"club", "codes", "coffee", "college", "com", "community", "company", "computer", "cool", "coop",
	"country", "credit", "cyou", "dance", "date", "dating", "deals", "design", "dev", "diet", "digital",
	"direct", "directory", "discount", "dog", "domains", "download", "earth", "eco", "edu", "education",
	"email", "energy", "engineer", "estate", "events", "exchange", "expert", "express", "fail", "family",
	"fans", "farm", "fashion", "film", "finance", "fit", "fitness", "flowers", "fm", "food", "football",
	"forum", "foundation", "free", "fun", "fund", "furniture", "game", "games", "garden", "gay", "gift",
	"gifts", "gives", "glass", "global", "gold", "golf", "gov", "graphics", "green", "group", "guide",
	"guru", "health", "help", "holdings", "holiday", "homes", "host", "hosting", "house", "how", "icu",
	"info", "ink", "int", "international", "investments", "jobs", "kim", "kitchen", "land", "lat", "law",
	"lgbt", "life", "lighting", "limited", "link", "live", "llc", "loan", "lol", "love", "ltd", "luxury",
	"market", "marketing", "mba", "media", "men", "menu", "mil", "mobi", "moda", "moe", "money", "moscow",
	"museum", "music", "name", "net", "network", "news", "ninja", "one", "online", "ooo", "org", "page",
	"partners", "party", "photo", "photography", "photos", "pics", "pink", "pizza", "place", "plus",
	"poker", "porn", "press", "pro", "productions", "promo", "properties", "pub", "racing", "radio",
	"red", "rent", "repair", "report", "rest", "review", "reviews", "rocks", "run", "sale", "salon",
	"school", "science", "services", "sex", "sexy", "shoes", "shop", "show", "site", "ski", "social",
	"software", "solutions", "space", "sport", "store", "stream", "studio", "style", "sucks", "support",
	"surf", "systems", "tattoo", "team", "tech", "technology", "tel", "tips", "today", "tools", "top",
	"tours", "town", "toys", "trade", "training", "travel", "tube", "university", "uno", "vip", "vision",
	"vodka", "vote", "voyage", "watch", "webcam", "website", "wiki", "win", "wine", "work", "works",
	"world", "wtf", "xxx", "xyz", "yoga", "zone",
	// country code
	"ac", "ad", "ae", "af", "ag", "ai", "al", "am", "ao", "aq", "ar", "as", "at", "au", "aw", "ax",
	"az", "ba", "bb", "bd", "be", "bf", "bg", "bh", "bi", "bj", "bm", "bn", "bo", "br", "bs", "bt",
	"bw", "by", "bz", "ca", "cc", "cd", "cf", "cg", "ch", "ci", "ck", "cl", "cm", "cn", "co", "cr",
	"cu", "cv", "cw", "cx", "cy", "cz", "de", "dj", "dk", "dm", "do", "dz", "ec", "ee", "eg", "er",
	"es", "et", "eu", "fi", "fj", "fk", "fo", "fr", "ga", "gd", "ge", "gf", "gg", "gh", "gi",
	"gl", "gm", "gn", "gp", "gq", "gr", "gs", "gt", "gu", "gw", "gy", "hk", "hm", "hn", "hr", "ht",
	"hu", "id", "ie", "il", "im", "in", "io", "iq", "ir", "is", "it", "je", "jm", "jo", "jp", "ke",
	"kg", "kh", "ki", "km", "kn", "kp", "kr", "kw", "ky", "kz", "la", "lb", "lc", "li", "lk", "lr",
	"ls", "lt", "lu", "lv", "ly", "ma", "mc", "md", "me", "mg", "mh", "mk", "ml", "mm", "mn", "mo",
	"mp", "mq", "mr", "ms", "mt", "mu", "mv", "mw", "mx", "my", "mz", "na", "nc", "ne", "nf", "ng",
	"ni", "nl", "no", "np", "nr", "nu", "nz", "om", "pa", "pe", "pf", "pg", "ph", "pk", "pl", "pm",
	"pn", "pr", "ps", "pt", "pw", "py", "qa", "re", "ro", "rs", "ru", "rw", "sa", "sb", "sc", "sd",
	"se", "sg", "sh", "si", "sk", "sl", "sm", "sn", "so", "sr", "ss", "st", "su", "sv", "sx", "sy",
	"sz", "tc", "td", "tf", "tg", "th", "tj", "tk", "tl", "tm", "tn", "to", "tr", "tt", "tv", "tw",
	"tz", "ua", "ug", "uk", "us", "uy", "uz", "va", "vc", "ve", "vg", "vi", "vn", "vu", "wf", "ws",
	"ye", "yt", "za", "zm", "zw",
	// cyrillic
	"бг", "бел", "дети", "ею", "католик", "ком", "мкд", "мон", "москва", "онлайн", "орг", "рус", "рф",
	"сайт", "срб", "укр", "қаз",
}
