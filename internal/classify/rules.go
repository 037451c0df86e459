package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ryosukesatoh/feed-digest/internal/config"
)

const defaultMinMatches = 2

// Rule assigns Category to an article whose text matches. A rule with a
// pattern matches on a single regexp hit; keyword rules need MinMatches
// distinct keywords.
type Rule struct {
	Category   Category
	Pattern    *regexp.Regexp
	Keywords   []string
	MinMatches int
}

// Match reports whether the rule fires for text. text must be lowercased.
func (r Rule) Match(text string) bool {
	if r.Pattern != nil && r.Pattern.MatchString(text) {
		return true
	}
	if len(r.Keywords) == 0 {
		return false
	}
	need := r.MinMatches
	if need <= 0 {
		need = defaultMinMatches
	}
	hits := 0
	for _, kw := range r.Keywords {
		if strings.Contains(text, kw) {
			hits++
			if hits >= need {
				return true
			}
		}
	}
	return false
}

// CompileRules converts the configured rule table. An empty table yields
// DefaultRules.
func CompileRules(rcs []config.RuleConfig) ([]Rule, error) {
	if len(rcs) == 0 {
		return DefaultRules(), nil
	}
	rules := make([]Rule, 0, len(rcs))
	for i, rc := range rcs {
		cat := Category(rc.Category)
		if !cat.Valid() {
			return nil, fmt.Errorf("classify: rules[%d]: unknown category %q", i, rc.Category)
		}
		r := Rule{Category: cat, MinMatches: rc.MinMatches}
		if rc.Pattern != "" {
			re, err := regexp.Compile("(?i)" + rc.Pattern)
			if err != nil {
				return nil, fmt.Errorf("classify: rules[%d]: invalid pattern: %w", i, err)
			}
			r.Pattern = re
		}
		r.Keywords = lowerAll(rc.Keywords)
		if r.Pattern == nil && len(r.Keywords) == 0 {
			return nil, fmt.Errorf("classify: rules[%d]: needs a pattern or keywords", i)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func keywordRule(cat Category, keywords ...string) Rule {
	return Rule{Category: cat, Keywords: lowerAll(keywords), MinMatches: defaultMinMatches}
}

// DefaultRules is the built-in noise table, evaluated in order.
func DefaultRules() []Rule {
	return []Rule{
		keywordRule(Recruiting,
			"招聘", "诚聘", "猎头", "职位", "简历", "应聘", "面试", "入职", "薪资",
			"we're hiring", "we are hiring", "job opening", "apply now", "resume", "salary", "headhunter"),
		keywordRule(Advertisement,
			"赞助", "广告", "品牌推广", "商业合作", "软文", "推广",
			"sponsored", "advertisement", "paid partnership", "brand promotion"),
		keywordRule(Promotional,
			"优惠", "限时", "特价", "清仓", "秒杀", "抢购", "下单", "立减", "满减", "优惠券", "红包",
			"立即抢", "马上抢", "点击购买", "购买链接", "爆款", "热销", "包邮", "旗舰店",
			"discount", "coupon", "promo code", "limited time", "buy now", "free shipping", "flash sale"),
		keywordRule(Promotional,
			"课程", "训练营", "扫码", "报名", "培训", "讲座", "公开课",
			"bootcamp", "enroll", "course", "webinar"),
		keywordRule(Promotional,
			"知识星球", "付费社群", "会员", "加入社群", "社群", "粉丝群", "交流群",
			"join our community", "membership", "paid community"),
		keywordRule(Promotional,
			"会议报名", "展会报名", "早鸟票", "活动报名", "立即报名", "报名开启", "开启报名",
			"early bird", "register now", "registration open", "tickets"),
		keywordRule(OtherNoise,
			"融资", "轮融资", "估值", "投资方", "募资",
			"funding round", "series a", "series b", "valuation", "raised"),
		keywordRule(OtherNoise,
			"新品发布", "隆重推出", "盛大发布", "战略合作", "签署协议", "获奖",
			"press release", "strategic partnership", "proudly announce", "award"),
	}
}
