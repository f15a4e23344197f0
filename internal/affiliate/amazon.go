package affiliate

import "net/url"

// AmazonSearchBase is the search page keywords are appended to.
const AmazonSearchBase = "https://www.amazon.co.jp/s"

// AmazonSearchURL builds an Amazon search link for the raw keyword, tagged with
// the associate id when one is configured. It never touches the network.
func AmazonSearchURL(keyword, associateTag string) string {
	q := url.Values{"k": {keyword}}
	if associateTag != "" {
		q.Set("tag", associateTag)
	}
	return AmazonSearchBase + "?" + q.Encode()
}
