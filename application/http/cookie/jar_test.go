package cookie

import (
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"
)

type JarTestSuite struct {
	suite.Suite

	clock *clock.Mock
	jar   *Jar
}

func TestJarTestSuite(t *testing.T) {
	suite.Run(t, new(JarTestSuite))
}

func (s *JarTestSuite) SetupTest() {
	s.clock = clock.NewMock()
	s.clock.Set(time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC))
	s.jar = NewJar(Options{Clock: s.clock})
}

func (s *JarTestSuite) url(raw string) *url.URL {
	u, err := url.Parse(raw)
	s.Require().NoError(err)
	return u
}

func (s *JarTestSuite) names(raw string) []string {
	var names []string
	for _, c := range s.jar.Cookies(s.url(raw)) {
		names = append(names, c.Name)
	}
	return names
}

func (s *JarTestSuite) TestScopedByHostAndPath() {
	n := s.jar.SetCookies(s.url("http://a.example.com/x/index"), []string{"sid=1; Path=/x"})
	s.Equal(1, n)

	s.Equal("sid=1", s.jar.Header(s.url("http://a.example.com/x/y")))
	s.Empty(s.jar.Header(s.url("http://b.example.com/x")))
	s.Empty(s.jar.Header(s.url("http://a.example.com/z")))
}

func (s *JarTestSuite) TestDefaultPath() {
	s.jar.SetCookies(s.url("http://example.com/docs/page"), []string{"a=1"})

	s.Equal([]string{"a"}, s.names("http://example.com/docs"))
	s.Equal([]string{"a"}, s.names("http://example.com/docs/other"))
	s.Empty(s.names("http://example.com/"))
}

func (s *JarTestSuite) TestDomainCookie() {
	s.jar.SetCookies(s.url("http://a.example.com/"), []string{"d=1; Domain=.Example.com"})

	s.Equal([]string{"d"}, s.names("http://example.com/"))
	s.Equal([]string{"d"}, s.names("http://b.example.com/"))
	s.Equal([]string{"d"}, s.names("http://x.b.example.com/"))
	s.Empty(s.names("http://example.org/"))
}

func (s *JarTestSuite) TestHostOnlyCookie() {
	s.jar.SetCookies(s.url("http://example.com/"), []string{"h=1"})

	s.Equal([]string{"h"}, s.names("http://EXAMPLE.com/"))
	s.Empty(s.names("http://a.example.com/"))

	cookies := s.jar.Cookies(s.url("http://example.com/"))
	s.Require().Len(cookies, 1)
	s.True(cookies[0].HostOnly)
	s.Equal("example.com", cookies[0].Domain)
}

func (s *JarTestSuite) TestRejectedDomains() {
	testcases := []struct {
		desc  string
		from  string
		value string
	}{
		{desc: "foreign domain", from: "http://a.example.com/", value: "x=1; Domain=other.com"},
		{desc: "child domain", from: "http://example.com/", value: "x=1; Domain=a.example.com"},
		{desc: "public suffix", from: "http://a.example.com/", value: "x=1; Domain=com"},
		{desc: "ip with other domain", from: "http://10.0.0.1/", value: "x=1; Domain=0.0.1"},
		{desc: "malformed", from: "http://example.com/", value: "no-pair"},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.jar.Clear()
			s.Zero(s.jar.SetCookies(s.url(tc.from), []string{tc.value}))
			s.Zero(s.jar.Len())
		})
	}
}

func (s *JarTestSuite) TestPublicSuffixAsExactHost() {
	s.Equal(1, s.jar.SetCookies(s.url("http://com/"), []string{"x=1; Domain=com"}))

	cookies := s.jar.Cookies(s.url("http://com/"))
	s.Require().Len(cookies, 1)
	s.True(cookies[0].HostOnly)
	s.Empty(s.names("http://example.com/"))
}

func (s *JarTestSuite) TestIPHost() {
	s.jar.SetCookies(s.url("http://127.0.0.1:8080/"), []string{"ip=1; Domain=127.0.0.1"})

	s.Equal([]string{"ip"}, s.names("http://127.0.0.1/"))
	s.Empty(s.names("http://127.0.0.2/"))
}

func (s *JarTestSuite) TestSecure() {
	// Secure cookies set over plain http are still stored.
	s.jar.SetCookies(s.url("http://example.com/"), []string{"s=1; Secure", "p=2"})

	s.Equal([]string{"s", "p"}, s.names("https://example.com/"))
	s.Equal([]string{"p"}, s.names("http://example.com/"))
}

func (s *JarTestSuite) TestMaxAge() {
	s.jar.SetCookies(s.url("http://example.com/"), []string{"m=1; Max-Age=60"})
	s.Equal(1, s.jar.Len())

	s.clock.Add(59 * time.Second)
	s.Equal([]string{"m"}, s.names("http://example.com/"))

	s.clock.Add(time.Second)
	s.Empty(s.names("http://example.com/"))
	s.Zero(s.jar.Len())
}

func (s *JarTestSuite) TestMaxAgeWinsOverExpires() {
	s.jar.SetCookies(s.url("http://example.com/"), []string{
		"m=1; Expires=Wed, 21 Oct 2015 07:28:00 GMT; Max-Age=60",
	})

	cookies := s.jar.Cookies(s.url("http://example.com/"))
	s.Require().Len(cookies, 1)
	s.True(cookies[0].Persistent)
	s.Equal(s.clock.Now().Add(time.Minute), cookies[0].Expires)
}

func (s *JarTestSuite) TestExpires() {
	s.jar.SetCookies(s.url("http://example.com/"), []string{"e=1; Expires=Fri, 01 Mar 2024 13:00:00 GMT"})
	s.Equal([]string{"e"}, s.names("http://example.com/"))

	s.clock.Add(time.Hour)
	s.Empty(s.names("http://example.com/"))
}

func (s *JarTestSuite) TestExpiryIsCapped() {
	s.jar.SetCookies(s.url("http://example.com/"), []string{
		"a=1; Max-Age=99999999999",
		"b=1; Expires=Fri, 01 Mar 2999 13:00:00 GMT",
	})

	limit := s.clock.Now().Add(400 * 24 * time.Hour)
	for _, c := range s.jar.Cookies(s.url("http://example.com/")) {
		s.Equal(limit, c.Expires, c.Name)
	}
}

func (s *JarTestSuite) TestDelete() {
	u := s.url("http://example.com/")

	testcases := []struct {
		desc  string
		value string
	}{
		{desc: "zero max-age", value: "k=; Max-Age=0"},
		{desc: "negative max-age", value: "k=; Max-Age=-1"},
		{desc: "past expires", value: "k=; Expires=Thu, 01 Jan 1970 00:00:00 GMT"},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.jar.SetCookies(u, []string{"k=v", "other=v"})
			s.Equal(2, s.jar.Len())

			s.Equal(1, s.jar.SetCookies(u, []string{tc.value}))
			s.Equal([]string{"other"}, s.names("http://example.com/"))
		})
	}
}

func (s *JarTestSuite) TestDeleteNeedsSameScope() {
	s.jar.SetCookies(s.url("http://example.com/a/"), []string{"k=v; Path=/a"})
	s.jar.SetCookies(s.url("http://example.com/"), []string{"k=; Max-Age=0; Path=/"})

	s.Equal([]string{"k"}, s.names("http://example.com/a/b"))
}

func (s *JarTestSuite) TestOrder() {
	u := s.url("http://example.com/")
	s.jar.SetCookies(u, []string{"root=1; Path=/", "deep=2; Path=/x/y", "mid=3; Path=/x"})
	s.clock.Add(time.Second)
	s.jar.SetCookies(u, []string{"late=4; Path=/"})

	s.Equal([]string{"deep", "mid", "root", "late"}, s.names("http://example.com/x/y/z"))
	s.Equal("deep=2; mid=3; root=1; late=4", s.jar.Header(s.url("http://example.com/x/y/z")))
}

func (s *JarTestSuite) TestOrderSameCreation() {
	s.jar.SetCookies(s.url("http://example.com/"), []string{"z=1", "a=2", "m=3"})

	s.Equal([]string{"z", "a", "m"}, s.names("http://example.com/"))
}

func (s *JarTestSuite) TestReplaceKeepsCreation() {
	u := s.url("http://example.com/")
	s.jar.SetCookies(u, []string{"a=1"})
	s.clock.Add(time.Second)
	s.jar.SetCookies(u, []string{"b=2"})
	s.clock.Add(time.Second)
	s.jar.SetCookies(u, []string{"a=9"})

	s.Equal("a=9; b=2", s.jar.Header(u))
	s.Equal(2, s.jar.Len())
}

func (s *JarTestSuite) TestCookiesAreCopies() {
	u := s.url("http://example.com/")
	s.jar.SetCookies(u, []string{"a=1"})

	cookies := s.jar.Cookies(u)
	cookies[0].Value = "changed"

	s.Equal("a=1", s.jar.Header(u))
}

func (s *JarTestSuite) TestClear() {
	s.jar.SetCookies(s.url("http://example.com/"), []string{"a=1", "b=2"})
	s.Equal(2, s.jar.Len())

	s.jar.Clear()
	s.Zero(s.jar.Len())
	s.Empty(s.jar.Header(s.url("http://example.com/")))
}

func (s *JarTestSuite) TestConcurrentAccess() {
	u := s.url("http://example.com/")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.jar.SetCookies(u, []string{"a=1"})
				_ = s.jar.Header(u)
			}
		}()
	}
	wg.Wait()

	s.Equal(1, s.jar.Len())
}
